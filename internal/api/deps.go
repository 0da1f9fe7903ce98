package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/cronnarc/cronguard/internal/analytics"
	"github.com/cronnarc/cronguard/internal/config"
	"github.com/cronnarc/cronguard/internal/docker"
	"github.com/cronnarc/cronguard/internal/monitor"
	"github.com/cronnarc/cronguard/internal/store"
)

type ContainerLister interface {
	ListContainers(ctx context.Context) ([]docker.ContainerSummary, error)
	ContainerState(ctx context.Context, id string) (string, error)
}

type Deps struct {
	Logger    *zap.Logger
	Store     store.Store
	Engine    *monitor.Engine
	Analytics *analytics.Service
	// Docker is nil when the daemon is unreachable.
	Docker ContainerLister
	Config *config.Config
}

func (d Deps) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := d.Engine.StatusSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}
