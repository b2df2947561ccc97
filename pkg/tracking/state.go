package tracking

import (
	"context"
	"time"

	"github.com/teslashibe/go-pantera/pkg/delivery"
	"github.com/teslashibe/go-pantera/pkg/detection"
	"github.com/teslashibe/go-pantera/pkg/location"
)

// AppState is the aggregate status exposed to display layers.
type AppState struct {
	Tracking             bool `json:"tracking"`
	LocationPermission   bool `json:"location_permission"`
	BackgroundPermission bool `json:"background_permission"`

	CurrentSample   *location.Sample `json:"current_sample,omitempty"`
	LastKnownSample *location.Sample `json:"last_known_sample,omitempty"`

	Delivery   delivery.Snapshot `json:"delivery"`
	QueueDepth int               `json:"queue_depth"`
	Draining   bool              `json:"draining"`

	Sessions    int             `json:"sessions"`
	VideoActive bool            `json:"video_active"`
	Detection   detection.State `json:"detection"`

	StatusMessage string    `json:"status_message"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ShowingError  bool      `json:"showing_error"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConnectedSummary renders "N of M connected" for the last round.
func (s AppState) ConnectedSummary() string {
	return s.Delivery.Summary()
}

// Permissions is the platform permission oracle.
type Permissions interface {
	LocationGranted() bool
	BackgroundGranted() bool
}

// StaticPermissions answers from fixed values.
type StaticPermissions struct {
	Location   bool
	Background bool
}

func (p StaticPermissions) LocationGranted() bool   { return p.Location }
func (p StaticPermissions) BackgroundGranted() bool { return p.Background }

// Video is the broadcast side started alongside tracking.
type Video interface {
	Start(ctx context.Context) error
	Stop() error
	SessionCount() int
}

// Dispatcher runs fan-out rounds.
type Dispatcher interface {
	Dispatch(ctx context.Context, s location.Sample) (delivery.Round, error)
	Status() delivery.Snapshot
}
