package mongo

import (
	"context"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository/storetest"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func TestMessageIDNamesItsRoom(t *testing.T) {
	room := domain.RoomID("alice", "bob")
	id := messageID(room)
	if !strings.HasPrefix(id, room+":") {
		t.Fatalf("id = %q", id)
	}
	if got := roomOfMessage(id); got != room {
		t.Errorf("roomOfMessage(%q) = %q", id, got)
	}
	if got := roomOfMessage(uuid.NewString()); got != "" {
		t.Errorf("bare uuid gave room %q", got)
	}
}

func TestMessageKeys(t *testing.T) {
	s := &Store{}
	room := domain.RoomID("alice", "bob")

	tests := []struct {
		name string
		ev   changeEvent
		want []string
	}{
		{
			name: "insert",
			ev:   changeEvent{OperationType: "insert", FullDocument: bson.M{domain.FieldRoomID: room}},
			want: []string{roomKey(room)},
		},
		{
			name: "delete",
			ev: func() changeEvent {
				ev := changeEvent{OperationType: "delete"}
				ev.DocumentKey.ID = messageID(room)
				return ev
			}(),
			want: []string{roomKey(room)},
		},
		{
			name: "unknown id",
			ev: func() changeEvent {
				ev := changeEvent{OperationType: "delete"}
				ev.DocumentKey.ID = primitive.NewObjectID()
				return ev
			}(),
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.messageKeys(tt.ev); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("keys = %v, want %v", got, tt.want)
			}
		})
	}

	rooms := changeEvent{FullDocument: bson.M{"participants": bson.A{"alice", "bob"}}}
	if got := s.roomKeys(rooms); !reflect.DeepEqual(got, []string{userKey("alice"), userKey("bob")}) {
		t.Errorf("room keys = %v", got)
	}
}

func TestNormalize(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	oid := primitive.NewObjectID()

	doc := toDocument(bson.M{
		"createdAt": primitive.NewDateTimeFromTime(at),
		"owner":     oid,
		"location":  bson.D{{Key: "lat", Value: 45.8}, {Key: "lng", Value: 15.9}},
		"tags":      bson.A{"a", bson.M{"at": primitive.NewDateTimeFromTime(at)}},
	})

	if got, ok := doc["createdAt"].(time.Time); !ok || !got.Equal(at) {
		t.Errorf("createdAt = %#v", doc["createdAt"])
	}
	if doc["owner"] != oid.Hex() {
		t.Errorf("owner = %#v", doc["owner"])
	}
	loc, ok := doc["location"].(map[string]any)
	if !ok || loc["lat"] != 45.8 {
		t.Errorf("location = %#v", doc["location"])
	}
	tags, ok := doc["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("tags = %#v", doc["tags"])
	}
	if nested, _ := tags[1].(map[string]any); nested == nil {
		t.Errorf("nested = %#v", tags[1])
	} else if _, ok := nested["at"].(time.Time); !ok {
		t.Errorf("nested at = %#v", nested["at"])
	}
}

// TestStoreBehaviour needs a replica set for change streams and
// transactions, e.g. CHATSYNC_TEST_MONGO=mongodb://127.0.0.1:27017/?replicaSet=rs0.
func TestStoreBehaviour(t *testing.T) {
	uri := os.Getenv("CHATSYNC_TEST_MONGO")
	if uri == "" {
		t.Skip("CHATSYNC_TEST_MONGO not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, uri)
	if err != nil {
		t.Fatal(err)
	}
	db := client.Database("chatsync_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	store, err := NewStore(db, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	storetest.Run(t, storetest.Backend{
		Rooms:    store.Rooms(),
		Messages: store.Messages(),
		Users:    store.Users(),
		Listen:   store.Listen,
	})
}
