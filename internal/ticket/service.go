package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/billsscan/internal/scanning"
)

// ErrScanInProgress is returned while a previous upload is still being
// parsed. One receipt is processed at a time; clients show a processing
// indicator until the in-flight scan settles.
var ErrScanInProgress = errors.New("a receipt scan is already in progress")

// IDGenerator generates unique ticket IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator derives IDs from the UnixNano timestamp, so newer
// tickets sort after older ones by ID.
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service turns uploaded receipt images into tickets
type Service struct {
	repo        *Repository
	parser      scanning.Parser
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	processing  atomic.Bool
}

// NewService creates a new Service with default ID generator and time source
func NewService(repo *Repository, parser scanning.Parser, storage Storage) *Service {
	return &Service{
		repo:        repo,
		parser:      parser,
		storage:     storage,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(repo *Repository, parser scanning.Parser, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		repo:        repo,
		parser:      parser,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length; phone cameras produce long noisy names.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")
	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ProcessReceipt stores the uploaded image, parses it, and adds the resulting
// ticket to the repository. A parse failure leaves no partial ticket behind.
// Only one receipt is processed at a time; concurrent calls get
// ErrScanInProgress.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Ticket, error) {
	if !s.processing.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.processing.Store(false)

	id := s.idGenerator.Generate()
	cleanFilename := sanitizeFilename(filename)

	imageURI, err := s.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	result, err := s.parser.ParseReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to parse receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		// No partial ticket: drop the stored image along with the scan
		s.storage.Delete(imageURI)
		return nil, fmt.Errorf("parsing receipt: %w", err)
	}

	items := make([]LineItem, 0, len(result.LineItems))
	for _, item := range result.LineItems {
		items = append(items, LineItem{
			Quantity:    item.Quantity,
			Description: item.Description,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		})
	}

	t := Ticket{
		ID:        id,
		Merchant:  result.Merchant,
		Date:      result.Date,
		Time:      result.Time,
		ImageURI:  imageURI,
		LineItems: items,
	}
	t.RecomputeTotal()

	s.repo.Add(t)
	return &t, nil
}

// TicketImage retrieves the stored image for a ticket
func (s *Service) TicketImage(id string) ([]byte, error) {
	var imageURI string
	for _, t := range s.repo.All() {
		if t.ID == id {
			imageURI = t.ImageURI
			break
		}
	}
	if imageURI == "" {
		return nil, fmt.Errorf("ticket not found: %s", id)
	}

	data, err := s.storage.Get(imageURI)
	if err != nil {
		return nil, fmt.Errorf("getting ticket image: %w", err)
	}
	return data, nil
}

// DeleteTicket removes a ticket and its stored image
func (s *Service) DeleteTicket(id string) {
	for _, t := range s.repo.All() {
		if t.ID == id && t.ImageURI != "" {
			if err := s.storage.Delete(t.ImageURI); err != nil {
				slog.Warn("Failed to delete image", "image_uri", t.ImageURI, "error", err)
			}
			break
		}
	}
	s.repo.Delete(id)
}
