package instance

import (
	"github.com/pulsekit/presence/data/events"
	"github.com/pulsekit/presence/internal/store"
	"github.com/pulsekit/presence/internal/svc/archive"
	"github.com/pulsekit/presence/internal/svc/identity"
	"github.com/pulsekit/presence/internal/svc/lifecycle"
	"github.com/pulsekit/presence/internal/svc/limiter"
	"github.com/pulsekit/presence/internal/svc/prometheus"
	"github.com/pulsekit/presence/internal/svc/reader"
	"github.com/pulsekit/presence/internal/svc/reporter"
)

type Instances struct {
	Store      store.Instance
	Identity   identity.Instance
	Lifecycle  lifecycle.Source
	Events     events.Instance
	Archive    archive.Instance
	Limiter    limiter.Instance
	Prometheus prometheus.Instance

	Reporter reporter.Instance
	Reader   reader.Instance
}
