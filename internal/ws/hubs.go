package ws

import (
	"context"
	"log/slog"
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

type Hubs struct {
	Monitoring *MonitoringHub
	Student    *StudentHub
}

func NewHubs(log *slog.Logger) *Hubs {
	return &Hubs{
		Monitoring: NewMonitoringHub(log),
		Student:    NewStudentHub(log),
	}
}

// Run starts both hubs and blocks until ctx is done.
func (h *Hubs) Run(ctx context.Context) {
	go h.Monitoring.Run(ctx)
	h.Student.Run(ctx)
}
