package store

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"

	"imgconv/internal/format"
)

// Stage names one of the store's collections.
type Stage string

const (
	StageUploaded Stage = "uploaded"
	StageQueued   Stage = "queued"
	StageOutput   Stage = "output"
	StageFailed   Stage = "failed"
)

// Stages lists every collection in pipeline order.
func Stages() []Stage {
	return []Stage{StageUploaded, StageQueued, StageOutput, StageFailed}
}

// CompletedLayout is the display layout for completion timestamps.
const CompletedLayout = "03:04:05 PM 02-01-2006"

var (
	ErrQueueEmpty  = errors.New("no queued image is eligible for conversion")
	ErrNotFound    = errors.New("image not found")
	ErrDuplicateID = errors.New("duplicate image id")
	ErrNoTarget    = errors.New("target format required")
	ErrInvalid     = errors.New("invalid image")
)

// Entity is one uploaded file tracked through every stage. Raster and
// EncodedResult are shared between snapshots and must not be mutated.
type Entity struct {
	ID            string
	Name          string
	SourceFormat  format.Format
	TargetFormat  format.Format
	Raster        image.Image
	Width         int
	Height        int
	ColorModel    string
	Preview       string
	EncodedResult []byte
	Selected      bool
	AddedAt       time.Time
	QueuedAt      time.Time
	CompletedAt   time.Time
	Err           string
	Attempts      int
}

// NewEntity builds an uploaded entity with a fresh random identifier.
func NewEntity(name string, source format.Format, raster image.Image, preview string) Entity {
	e := Entity{
		ID:           uuid.NewString(),
		Name:         name,
		SourceFormat: source,
		Raster:       raster,
		Preview:      preview,
		ColorModel:   describeColorModel(raster),
	}
	if raster != nil {
		b := raster.Bounds()
		e.Width, e.Height = b.Dx(), b.Dy()
	}
	return e
}

// ConversionLabel renders "<src> -> <dst>" using canonical extensions.
func (e Entity) ConversionLabel() string {
	src := e.SourceFormat.Extension()
	if e.TargetFormat == format.None {
		return src
	}
	return fmt.Sprintf("%s -> %s", src, e.TargetFormat.Extension())
}

// CompletedLabel renders the completion time for display, or "" when the
// entity has not finished converting.
func (e Entity) CompletedLabel() string {
	if e.CompletedAt.IsZero() {
		return ""
	}
	return e.CompletedAt.Local().Format(CompletedLayout)
}

func describeColorModel(img image.Image) string {
	if img == nil {
		return ""
	}
	name := fmt.Sprintf("%T", img)
	return strings.ToLower(strings.TrimPrefix(name, "*image."))
}

// Counts reports collection sizes.
type Counts struct {
	Uploaded int
	Queued   int
	InFlight int
	Output   int
	Failed   int
}

// Total returns the number of entities across all collections.
func (c Counts) Total() int {
	return c.Uploaded + c.Queued + c.Output + c.Failed
}

// Order selects which queued entity is converted next.
type Order int

const (
	FIFO Order = iota
	LIFO
)

func (o Order) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParseOrder accepts "fifo" or "lifo"; empty means FIFO.
func ParseOrder(value string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	default:
		return FIFO, fmt.Errorf("unknown drain order %q", value)
	}
}

// ConvertFunc encodes one queued entity. It runs outside the store lock.
type ConvertFunc func(Entity) ([]byte, error)

// DrainResult describes where a drained entity landed.
type DrainResult struct {
	Entity Entity
	Stage  Stage
	Err    error
}

// EventKind classifies store mutations.
type EventKind string

const (
	EventAdded      EventKind = "added"
	EventSelection  EventKind = "selection"
	EventQueued     EventKind = "queued"
	EventConverting EventKind = "converting"
	EventConverted  EventKind = "converted"
	EventFailed     EventKind = "failed"
	EventRetried    EventKind = "retried"
	EventRemoved    EventKind = "removed"
)

// Event is delivered to subscribers after a mutation commits.
type Event struct {
	Kind   EventKind
	Stages []Stage
	IDs    []string
}

// Touches reports whether the event changed stage s.
func (e Event) Touches(s Stage) bool {
	for _, stage := range e.Stages {
		if stage == s {
			return true
		}
	}
	return false
}

// Listener receives store events. Listeners run on the mutating goroutine
// and must not block.
type Listener func(Event)
