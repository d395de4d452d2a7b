package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"quote_alert_backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB names
const (
	DefaultDatabase   = "quote_alerts"
	TriggerCollection = "alert_triggers"
)

// ErrNotConfigured is returned by reads when no MongoDB URI was given
var ErrNotConfigured = errors.New("MongoDB not configured")

// TriggerDocument is the archived form of a fired alert
type TriggerDocument struct {
	AlertID     uint      `bson:"alert_id"`
	UserID      uint      `bson:"user_id"`
	Symbol      string    `bson:"symbol"`
	Price       string    `bson:"price"`
	Reason      string    `bson:"reason"`
	TriggeredAt time.Time `bson:"triggered_at"`
	ArchivedAt  time.Time `bson:"archived_at"`
}

// TriggerArchive copies alert triggers to MongoDB. Without a URI it is a no-op.
type TriggerArchive struct {
	uri    string
	dbName string

	mu          sync.RWMutex
	client      *mongo.Client
	collection  *mongo.Collection
	isConnected bool
	lastError   string
}

// NewTriggerArchive creates an archive for uri; an empty uri disables it
func NewTriggerArchive(uri, dbName string) *TriggerArchive {
	if dbName == "" {
		dbName = DefaultDatabase
	}
	return &TriggerArchive{uri: uri, dbName: dbName}
}

// Connect dials MongoDB, pings it and ensures indexes
func (a *TriggerArchive) Connect(ctx context.Context) error {
	if a.uri == "" {
		log.Println("MONGODB_URI not set, trigger archive disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(a.uri).
		SetMaxPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		a.setError(fmt.Sprintf("Failed to connect: %v", err))
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		a.setError(fmt.Sprintf("Failed to ping: %v", err))
		client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(a.dbName).Collection(TriggerCollection)
	_, err = collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "triggered_at", Value: -1}}},
		{Keys: bson.D{{Key: "alert_id", Value: 1}}},
	})
	if err != nil {
		log.Printf("Warning: failed to create trigger archive indexes: %v", err)
	}

	a.mu.Lock()
	a.client = client
	a.collection = collection
	a.isConnected = true
	a.lastError = ""
	a.mu.Unlock()

	log.Println("MongoDB trigger archive connected")
	return nil
}

func (a *TriggerArchive) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.mu.Unlock()
}

// IsConfigured reports whether the archive is connected
func (a *TriggerArchive) IsConfigured() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isConnected
}

// Archive stores a copy of a trigger history entry
func (a *TriggerArchive) Archive(ctx context.Context, entry models.AlertTriggerHistory) error {
	a.mu.RLock()
	collection := a.collection
	a.mu.RUnlock()
	if collection == nil {
		return nil
	}

	doc := ToDocument(entry, time.Now())
	if _, err := collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to archive trigger: %w", err)
	}
	return nil
}

// Recent returns a user's most recent archived triggers
func (a *TriggerArchive) Recent(ctx context.Context, userID uint, limit int64) ([]TriggerDocument, error) {
	a.mu.RLock()
	collection := a.collection
	a.mu.RUnlock()
	if collection == nil {
		return nil, ErrNotConfigured
	}

	opts := options.Find().SetSort(bson.D{{Key: "triggered_at", Value: -1}}).SetLimit(limit)
	cursor, err := collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger archive: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []TriggerDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode trigger archive: %w", err)
	}
	return docs, nil
}

// Status returns connection details for the status endpoint
func (a *TriggerArchive) Status() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := map[string]interface{}{
		"uri_set":   a.uri != "",
		"connected": a.isConnected,
	}
	if a.lastError != "" {
		status["error"] = a.lastError
	}
	return status
}

// Close disconnects from MongoDB
func (a *TriggerArchive) Close() error {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.collection = nil
	a.isConnected = false
	a.mu.Unlock()

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}

// ToDocument converts a history row to its archived form
func ToDocument(entry models.AlertTriggerHistory, archivedAt time.Time) TriggerDocument {
	return TriggerDocument{
		AlertID:     entry.AlertID,
		UserID:      entry.UserID,
		Symbol:      entry.Symbol,
		Price:       entry.Price.String(),
		Reason:      entry.Reason,
		TriggeredAt: entry.TriggeredAt,
		ArchivedAt:  archivedAt,
	}
}
