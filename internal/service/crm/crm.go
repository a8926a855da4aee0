// Package crm serves the CRM side of the application: customers, their
// documents, call history and clone sample acknowledgements. Data is held in
// memory and seeded with demo records.
package crm

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crm-call-service/internal/models"
	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/service/clock"
)

// Clone kinds.
const (
	CloneVoice = "voice"
	CloneVideo = "video"
)

const unknownCustomer = "Unknown Customer"

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrUnknownCloneKind = errors.New("unknown clone kind")
	ErrEmptySample      = errors.New("clone sample is empty")
)

// Filter narrows a customer search.
type Filter struct {
	// Query matches name, email, company or phone, case-insensitively.
	Query string
	// Status matches exactly when set.
	Status string
}

// Service is an in-memory CRM.
type Service struct {
	mu        sync.RWMutex
	clock     clock.Clock
	logger    zerolog.Logger
	customers []models.Customer
	documents []models.Document
	history   []models.CallHistoryItem
}

// New creates a service seeded with demo data relative to clk's current time.
func New(clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	s := &Service{
		clock:  clk,
		logger: logging.WithComponent("crm"),
	}
	s.seed(clk.Now())
	return s
}

func (s *Service) seed(now time.Time) {
	const day = 24 * time.Hour
	avatar := "/placeholder.svg?height=40&width=40"
	s.customers = []models.Customer{
		{ID: "cust_1", Name: "John Doe", Email: "john.doe@example.com", Phone: "+1 (555) 123-4567", Company: "Acme Inc.", Status: "active", LastContact: now.Add(-day), TotalSpent: 12500, AvatarRef: avatar},
		{ID: "cust_2", Name: "Jane Smith", Email: "jane.smith@example.com", Phone: "+1 (555) 987-6543", Company: "Globex Corp", Status: "active", LastContact: now.Add(-2 * day), TotalSpent: 8750, AvatarRef: avatar},
		{ID: "cust_3", Name: "Robert Johnson", Email: "robert.johnson@example.com", Phone: "+1 (555) 456-7890", Company: "Initech", Status: "inactive", LastContact: now.Add(-30 * day), TotalSpent: 3200, AvatarRef: avatar},
		{ID: "cust_4", Name: "Emily Davis", Email: "emily.davis@example.com", Phone: "+1 (555) 789-0123", Company: "Umbrella Corp", Status: "active", LastContact: now.Add(-5 * day), TotalSpent: 15800, AvatarRef: avatar},
		{ID: "cust_5", Name: "Michael Wilson", Email: "michael.wilson@example.com", Phone: "+1 (555) 321-6547", Company: "Stark Industries", Status: "active", LastContact: now.Add(-4 * day), TotalSpent: 22400, AvatarRef: avatar},
	}
	s.documents = []models.Document{
		{ID: "doc_1", Name: "Contract_Acme_Inc.pdf", Type: "pdf", Size: 2457600, UploadedAt: now.Add(-day), CustomerID: "cust_1", CustomerName: "John Doe"},
		{ID: "doc_2", Name: "Invoice_Q1_2023.xlsx", Type: "xlsx", Size: 1228800, UploadedAt: now.Add(-2 * day), CustomerID: "cust_2", CustomerName: "Jane Smith"},
		{ID: "doc_3", Name: "Proposal_Initech.docx", Type: "docx", Size: 3686400, UploadedAt: now.Add(-3 * day), CustomerID: "cust_3", CustomerName: "Robert Johnson"},
	}
	s.history = []models.CallHistoryItem{
		{ID: "call_1", CustomerID: "cust_1", CustomerName: "John Doe", Date: now, Duration: 320, Status: "completed", Type: "outbound", AIAssisted: true},
		{ID: "call_2", CustomerID: "cust_2", CustomerName: "Jane Smith", Date: now.Add(-time.Hour), Duration: 540, Status: "completed", Type: "inbound"},
		{ID: "call_3", CustomerID: "cust_3", CustomerName: "Robert Johnson", Date: now.Add(-2 * time.Hour), Duration: 180, Status: "missed", Type: "inbound"},
	}
}

// Customers returns the customers matching f in insertion order.
func (s *Service) Customers(ctx context.Context, f Filter) ([]models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if q != "" && !matches(c, q) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func matches(c models.Customer, q string) bool {
	for _, field := range []string{c.Name, c.Email, c.Company, c.Phone} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Customer returns one customer by id.
func (s *Service) Customer(ctx context.Context, id string) (models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return models.Customer{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.customers {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Customer{}, ErrCustomerNotFound
}

// CreateCustomer stores a new active customer with no spend.
func (s *Service) CreateCustomer(ctx context.Context, c models.Customer) (models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return models.Customer{}, err
	}
	c.ID = "cust_" + shortID()
	c.Status = "active"
	c.LastContact = s.clock.Now()
	c.TotalSpent = 0

	s.mu.Lock()
	s.customers = append(s.customers, c)
	s.mu.Unlock()

	s.logger.Info().Str("customerId", c.ID).Msg("Customer created")
	return c, nil
}

// Documents returns all documents, newest first.
func (s *Service) Documents(ctx context.Context) ([]models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.Document, len(s.documents))
	copy(out, s.documents)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

// AddDocument records an uploaded file. Unknown customers are kept with a
// placeholder name.
func (s *Service) AddDocument(ctx context.Context, name string, size int64, customerID string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	customerName := unknownCustomer
	if c, err := s.Customer(ctx, customerID); err == nil {
		customerName = c.Name
	}

	doc := models.Document{
		ID:           "doc_" + shortID(),
		Name:         name,
		Type:         strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		Size:         size,
		UploadedAt:   s.clock.Now(),
		CustomerID:   customerID,
		CustomerName: customerName,
	}

	s.mu.Lock()
	s.documents = append(s.documents, doc)
	s.mu.Unlock()

	s.logger.Info().Str("documentId", doc.ID).Str("customerId", customerID).Int64("size", size).Msg("Document stored")
	return doc, nil
}

// History returns past calls, newest first.
func (s *Service) History(ctx context.Context) ([]models.CallHistoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.CallHistoryItem, len(s.history))
	copy(out, s.history)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

// RecordCall appends a finished call to the history.
func (s *Service) RecordCall(item models.CallHistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, item)
}

// AcceptClone acknowledges a voice or video sample.
func (s *Service) AcceptClone(ctx context.Context, kind string, size int64) (models.CloneAck, error) {
	if err := ctx.Err(); err != nil {
		return models.CloneAck{}, err
	}
	if kind != CloneVoice && kind != CloneVideo {
		return models.CloneAck{}, ErrUnknownCloneKind
	}
	if size <= 0 {
		return models.CloneAck{}, ErrEmptySample
	}
	ack := models.CloneAck{
		ID:         kind + "_" + shortID(),
		Kind:       kind,
		Bytes:      size,
		ReceivedAt: s.clock.Now(),
	}
	s.logger.Info().Str("cloneId", ack.ID).Str("kind", kind).Int64("bytes", size).Msg("Clone sample received")
	return ack, nil
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
