package cards

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

type fixedSuffixes struct {
	values []string
	index  int
}

func (f *fixedSuffixes) NewSuffix() (string, error) {
	value := f.values[f.index%len(f.values)]
	f.index++
	return value, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []Change
}

func (p *recordingPublisher) Publish(change Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
}

func (p *recordingPublisher) all() []Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Change(nil), p.changes...)
}

type staticNames map[string]string

func (n staticNames) DisplayName(_ context.Context, userID string) string {
	if name, ok := n[userID]; ok {
		return name
	}
	return userID
}

type serviceFixture struct {
	db        *gorm.DB
	service   *Service
	publisher *recordingPublisher
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Card{}, &Like{}, &Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	clockValue := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			clockValue = clockValue.Add(time.Second)
			return clockValue
		},
		IDProvider:   &sequenceIDProvider{prefix: "id"},
		SlugSuffixes: &fixedSuffixes{values: []string{"abc234", "def567", "ghj892"}},
		Publisher:    publisher,
		Names:        staticNames{"user-bob": "Bob"},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return serviceFixture{db: db, service: service, publisher: publisher}
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustCardRef(t *testing.T, value string) CardRef {
	t.Helper()
	ref, err := NewCardRef(value)
	if err != nil {
		t.Fatalf("unexpected card ref error: %v", err)
	}
	return ref
}

func completeInput(handle string) CardInput {
	return CardInput{
		Profile:  []byte(`{"handles":[{"platform":"github","handle":"` + handle + `"}],"editor":"cursor"}`),
		ImageURL: "https://images.example.com/" + handle + ".jpg",
	}
}
