package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smartgarden/iot-hub/internal/constants"
	"github.com/smartgarden/iot-hub/internal/models"
)

// Collection names, matching the original deployment's database layout.
const (
	devicesCollection  = "iot_devices"
	readingsCollection = "sensor_readings"
	rulesCollection    = "automation_rules"
)

// MongoStore implements DeviceStore, ReadingStore and RuleStore on top of a
// single MongoDB database.
type MongoStore struct {
	client   *mongo.Client
	devices  *mongo.Collection
	readings *mongo.Collection
	rules    *mongo.Collection
	logger   zerolog.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, uri, database string, logger zerolog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	return &MongoStore{
		client:   client,
		devices:  db.Collection(devicesCollection),
		readings: db.Collection(readingsCollection),
		rules:    db.Collection(rulesCollection),
		logger:   logger.With().Str("component", "store").Logger(),
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// UpsertDevice applies the patch to the device document, creating it when
// the id has never been seen.
func (s *MongoStore) UpsertDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	set := bson.M{
		"deviceId":  deviceID,
		"updatedAt": time.Now().UTC(),
	}
	if patch.Status != "" {
		set["status"] = patch.Status
	}
	if patch.LastSeen != nil {
		set["lastSeen"] = *patch.LastSeen
	}
	if patch.LastHeartbeat != nil {
		set["lastHeartbeat"] = *patch.LastHeartbeat
	}
	if patch.LastOffline != nil {
		set["lastOffline"] = *patch.LastOffline
	}
	if patch.FirmwareVersion != "" {
		set["firmwareVersion"] = patch.FirmwareVersion
	}
	if patch.FirmwareOutdated != nil {
		set["firmwareOutdated"] = *patch.FirmwareOutdated
	}
	if patch.LastTelemetry != nil {
		set["lastTelemetry"] = patch.LastTelemetry
	}
	for k, v := range patch.Metadata {
		set["metadata."+k] = v
	}

	_, err := s.devices.UpdateOne(ctx,
		bson.M{"deviceId": deviceID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", deviceID, err)
	}
	return nil
}

// FindDevice fetches one device document by id.
func (s *MongoStore) FindDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	var device models.Device
	err := s.devices.FindOne(ctx, bson.M{"deviceId": deviceID}).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device %s: %w", deviceID, err)
	}
	return &device, nil
}

// FindDeviceByMAC fetches one device document by its provisioned MAC address.
func (s *MongoStore) FindDeviceByMAC(ctx context.Context, macAddress string) (*models.Device, error) {
	var device models.Device
	err := s.devices.FindOne(ctx, bson.M{"macAddress": macAddress}).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device by MAC %s: %w", macAddress, err)
	}
	return &device, nil
}

// FindOnlineDevicesOlderThan returns online devices whose lastSeen precedes
// the cutoff. The sweeper uses this to detect silent failures.
func (s *MongoStore) FindOnlineDevicesOlderThan(ctx context.Context, cutoff time.Time) ([]models.Device, error) {
	cursor, err := s.devices.Find(ctx, bson.M{
		"status":   constants.StatusOnline,
		"lastSeen": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query stale devices: %w", err)
	}
	defer cursor.Close(ctx)

	var devices []models.Device
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, fmt.Errorf("failed to decode stale devices: %w", err)
	}
	return devices, nil
}

// MarkDevicesOffline bulk-demotes the given devices and returns how many
// documents were modified.
func (s *MongoStore) MarkDevicesOffline(ctx context.Context, deviceIDs []string, offlineAt time.Time) (int64, error) {
	if len(deviceIDs) == 0 {
		return 0, nil
	}
	result, err := s.devices.UpdateMany(ctx,
		bson.M{"deviceId": bson.M{"$in": deviceIDs}, "status": constants.StatusOnline},
		bson.M{"$set": bson.M{
			"status":      constants.StatusOffline,
			"lastOffline": offlineAt,
			"updatedAt":   time.Now().UTC(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark devices offline: %w", err)
	}
	return result.ModifiedCount, nil
}

// FindLatestTelemetry returns the most recently received telemetry bundle
// across all devices, used to prime newly connected dashboards.
func (s *MongoStore) FindLatestTelemetry(ctx context.Context) (*models.TelemetryBundle, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "lastTelemetry.receivedAt", Value: -1}})
	var device models.Device
	err := s.devices.FindOne(ctx, bson.M{"lastTelemetry": bson.M{"$exists": true}}, opts).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest telemetry: %w", err)
	}
	return device.LastTelemetry, nil
}

// InsertReadings bulk-inserts sensor readings. Readings are immutable facts;
// there is no update path.
func (s *MongoStore) InsertReadings(ctx context.Context, readings []models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}
	docs := make([]interface{}, len(readings))
	for i := range readings {
		docs[i] = readings[i]
	}
	if _, err := s.readings.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert %d readings: %w", len(readings), err)
	}
	return nil
}

// FindLatestReadingPerDevice aggregates the newest reading for every
// device/sensor pair.
func (s *MongoStore) FindLatestReadingPerDevice(ctx context.Context) ([]models.LatestReading, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "deviceId", Value: "$deviceId"}, {Key: "sensorType", Value: "$sensorType"}}},
			{Key: "deviceId", Value: bson.D{{Key: "$first", Value: "$deviceId"}}},
			{Key: "sensorType", Value: bson.D{{Key: "$first", Value: "$sensorType"}}},
			{Key: "value", Value: bson.D{{Key: "$first", Value: "$value"}}},
			{Key: "unit", Value: bson.D{{Key: "$first", Value: "$unit"}}},
			{Key: "timestamp", Value: bson.D{{Key: "$first", Value: "$timestamp"}}},
		}}},
	}
	cursor, err := s.readings.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate latest readings: %w", err)
	}
	defer cursor.Close(ctx)

	var latest []models.LatestReading
	if err := cursor.All(ctx, &latest); err != nil {
		return nil, fmt.Errorf("failed to decode latest readings: %w", err)
	}
	return latest, nil
}

// FindRulesForDevice returns the enabled automation rules for a device.
func (s *MongoStore) FindRulesForDevice(ctx context.Context, deviceID string) ([]models.AutomationRule, error) {
	cursor, err := s.rules.Find(ctx, bson.M{"deviceId": deviceID, "enabled": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for device %s: %w", deviceID, err)
	}
	defer cursor.Close(ctx)

	var rules []models.AutomationRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules for device %s: %w", deviceID, err)
	}
	return rules, nil
}
