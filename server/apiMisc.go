package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/geochange/pkg/perfstats"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time            int64                             `json:"time"`
		Running         int                               `json:"running"`         // Analyses currently holding a slot
		MaxConcurrent   int                               `json:"maxConcurrent"`   // Number of analysis slots
		FeedSubscribers int                               `json:"feedSubscribers"` // Connected websocket clients
		Stages          map[string]perfstats.StageSummary `json:"stages"`          // Time spent in each analysis stage
	}
	www.SendJSON(w, &pingJSON{
		Time:            time.Now().Unix(),
		Running:         len(s.semaphore),
		MaxConcurrent:   cap(s.semaphore),
		FeedSubscribers: s.feed.NumSubscribers(),
		Stages:          s.perf.Summary(),
	})
}
