package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// docIDLayout is a fixed-width UTC timestamp so document IDs sort
// lexicographically in time order.
const docIDLayout = "2006-01-02T15:04:05.000000000Z"

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Sites and devices are top-level collections and samples live in
// sub-collections beneath them.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) siteCollection(siteID, name string) (*firestore.CollectionRef, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	return f.client.Collection("sites").Doc(siteID).Collection(name), nil
}

func (f *FirestoreProvider) deviceCollection(deviceID, name string) (*firestore.CollectionRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection("devices").Doc(deviceID).Collection(name), nil
}

// decodeJSON unmarshals the "json" field every document carries.
func decodeJSON(doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// GetSite retrieves a site from the "sites" collection.
func (f *FirestoreProvider) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	if siteID == "" {
		return types.Site{}, fmt.Errorf("%w: empty siteID", ErrSiteNotFound)
	}
	doc, err := f.client.Collection("sites").Doc(siteID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Site{}, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return types.Site{}, fmt.Errorf("failed to get site %s: %w", siteID, err)
	}

	var site types.Site
	if err := decodeJSON(doc, &site); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode site", slog.String("siteID", siteID), slog.Any("err", err))
		return types.Site{}, err
	}
	return site, nil
}

// ListSites retrieves all sites from the "sites" collection.
func (f *FirestoreProvider) ListSites(ctx context.Context) ([]types.Site, error) {
	iter := f.client.Collection("sites").Documents(ctx)
	defer iter.Stop()

	var sites []types.Site
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating sites: %w", err)
		}

		var site types.Site
		if err := decodeJSON(doc, &site); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed site", slog.String("siteID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// CreateSite creates a new site document. It fails with ErrSiteExists if the
// ID is already taken.
func (f *FirestoreProvider) CreateSite(ctx context.Context, site types.Site) error {
	if site.ID == "" {
		return fmt.Errorf("siteID cannot be empty")
	}
	siteJSON, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("failed to marshal site %s: %w", site.ID, err)
	}
	_, err = f.client.Collection("sites").Doc(site.ID).Create(ctx, map[string]interface{}{
		"json": string(siteJSON),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrSiteExists, site.ID)
		}
		return fmt.Errorf("failed to create site %s: %w", site.ID, err)
	}
	return nil
}

func (f *FirestoreProvider) deviceQuery(name string) firestore.Query {
	return f.client.Collection("devices").Where("name", "==", name).Limit(1)
}

// FindDevice looks a device up by its unique name.
func (f *FirestoreProvider) FindDevice(ctx context.Context, name string) (types.Device, error) {
	iter := f.deviceQuery(name).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to query device %s: %w", name, err)
	}
	var d types.Device
	if err := decodeJSON(doc, &d); err != nil {
		return types.Device{}, err
	}
	return d, nil
}

// FindOrCreateDevice returns the device with the given name, creating it in
// the same transaction if it does not exist.
func (f *FirestoreProvider) FindOrCreateDevice(ctx context.Context, name string) (types.Device, error) {
	if name == "" {
		return types.Device{}, fmt.Errorf("device name cannot be empty")
	}
	var device types.Device
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		iter := tx.Documents(f.deviceQuery(name))
		defer iter.Stop()

		doc, err := iter.Next()
		if err == nil {
			return decodeJSON(doc, &device)
		}
		if err != iterator.Done {
			return fmt.Errorf("failed to query device %s: %w", name, err)
		}

		device = types.Device{ID: uuid.NewString(), Name: name}
		deviceJSON, err := json.Marshal(device)
		if err != nil {
			return fmt.Errorf("failed to marshal device %s: %w", name, err)
		}
		return tx.Create(f.client.Collection("devices").Doc(device.ID), map[string]interface{}{
			"json": string(deviceJSON),
			"name": name,
		})
	})
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to find or create device %s: %w", name, err)
	}
	return device, nil
}

// InsertWeatherSample adds a weather record to the site's "weather_history"
// collection, keyed by timestamp.
func (f *FirestoreProvider) InsertWeatherSample(ctx context.Context, sample types.WeatherSample) error {
	jsonBytes, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal weather sample: %w", err)
	}
	coll, err := f.siteCollection(sample.SiteID, "weather_history")
	if err != nil {
		return err
	}
	docID := sample.Timestamp.UTC().Format(docIDLayout)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": sample.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert weather sample: %w", err)
	}
	return nil
}

// InsertTelemetrySample adds a measurement to the device's "telemetry"
// collection, keyed by timestamp and parameter.
func (f *FirestoreProvider) InsertTelemetrySample(ctx context.Context, sample types.TelemetrySample) error {
	jsonBytes, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry sample: %w", err)
	}
	coll, err := f.deviceCollection(sample.DeviceID, "telemetry")
	if err != nil {
		return err
	}
	docID := sample.Timestamp.UTC().Format(docIDLayout) + "_" + sample.Parameter
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": sample.Timestamp,
		"parameter": sample.Parameter,
	})
	if err != nil {
		return fmt.Errorf("failed to insert telemetry sample: %w", err)
	}
	return nil
}

// deleteAll removes every document in the collection with a BulkWriter and
// returns how many were deleted.
func (f *FirestoreProvider) deleteAll(ctx context.Context, coll *firestore.CollectionRef) (int, error) {
	bw := f.client.BulkWriter(ctx)
	iter := coll.Select().Documents(ctx)
	defer iter.Stop()

	var jobs []*firestore.BulkWriterJob
	var iterErr error
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			iterErr = fmt.Errorf("error iterating %s: %w", coll.ID, err)
			break
		}
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			iterErr = fmt.Errorf("failed to enqueue delete of %s: %w", doc.Ref.ID, err)
			break
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var deleted int
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	if iterErr != nil {
		errs = append(errs, iterErr)
	}
	if len(errs) > 0 {
		return deleted, fmt.Errorf("failed to delete %s: %w", coll.ID, errors.Join(errs...))
	}
	return deleted, nil
}

// DeleteTelemetryForDevice removes all telemetry recorded for a device.
func (f *FirestoreProvider) DeleteTelemetryForDevice(ctx context.Context, deviceID string) (int, error) {
	coll, err := f.deviceCollection(deviceID, "telemetry")
	if err != nil {
		return 0, err
	}
	return f.deleteAll(ctx, coll)
}

// DeleteWeatherForSite removes all weather history of a site.
func (f *FirestoreProvider) DeleteWeatherForSite(ctx context.Context, siteID string) (int, error) {
	coll, err := f.siteCollection(siteID, "weather_history")
	if err != nil {
		return 0, err
	}
	return f.deleteAll(ctx, coll)
}

// rangeQuery returns documents with start <= timestamp < end in time order.
func rangeQuery(coll *firestore.CollectionRef, start, end time.Time) firestore.Query {
	return coll.
		Where("timestamp", ">=", start).
		Where("timestamp", "<", end).
		OrderBy("timestamp", firestore.Asc)
}

// GetWeatherHistory retrieves weather records within the specified time range.
func (f *FirestoreProvider) GetWeatherHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.WeatherSample, error) {
	coll, err := f.siteCollection(siteID, "weather_history")
	if err != nil {
		return nil, err
	}
	iter := rangeQuery(coll, start, end).Documents(ctx)
	defer iter.Stop()

	var samples []types.WeatherSample
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating weather history: %w", err)
		}
		var s types.WeatherSample
		if err := decodeJSON(doc, &s); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode weather sample", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// GetTelemetryHistory retrieves a device's telemetry within the specified time range.
func (f *FirestoreProvider) GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.TelemetrySample, error) {
	coll, err := f.deviceCollection(deviceID, "telemetry")
	if err != nil {
		return nil, err
	}
	iter := rangeQuery(coll, start, end).Documents(ctx)
	defer iter.Stop()

	var samples []types.TelemetrySample
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating telemetry: %w", err)
		}
		var s types.TelemetrySample
		if err := decodeJSON(doc, &s); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode telemetry sample", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}
