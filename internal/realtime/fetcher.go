package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transitmap/internal/poll"
)

// Fetcher polls a GTFS-RT alerts feed and updates the store.
type Fetcher struct {
	alertsURL string
	interval  time.Duration
	store     *Store
	client    *http.Client
	logger    *slog.Logger
}

// NewFetcher creates a GTFS-RT alerts fetcher.
func NewFetcher(alertsURL string, interval time.Duration, store *Store, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		alertsURL: alertsURL,
		interval:  interval,
		store:     store,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

// Run fetches immediately and then every interval. Blocks until ctx is
// cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	h := poll.Start(ctx, f.interval, func(ctx context.Context) {
		if err := f.fetch(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("fetching alerts failed", "error", err)
		}
	})
	<-h.Done()
	f.logger.Info("GTFS-RT fetcher stopped")
}

func (f *Fetcher) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.alertsURL, nil)
	if err != nil {
		return fmt.Errorf("create alerts request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alerts feed status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read alerts body: %w", err)
	}

	alerts, err := ParseAlerts(body)
	if err != nil {
		return err
	}
	f.store.SetAlerts(alerts)
	f.logger.Info("GTFS-RT alerts updated", "count", len(alerts))
	return nil
}

// ParseAlerts decodes a GTFS-RT FeedMessage and returns its alerts.
func ParseAlerts(body []byte) ([]Alert, error) {
	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("parse alerts protobuf: %w", err)
	}

	var alerts []Alert
	for _, entity := range feed.GetEntity() {
		a := entity.GetAlert()
		if a == nil || entity.GetIsDeleted() {
			continue
		}

		alert := Alert{
			ID:         entity.GetId(),
			HeaderText: getTranslation(a.GetHeaderText()),
			DescText:   getTranslation(a.GetDescriptionText()),
			Effect:     a.GetEffect().String(),
			Cause:      a.GetCause().String(),
		}

		routeSet := make(map[string]bool)
		stopSet := make(map[string]bool)
		for _, ie := range a.GetInformedEntity() {
			rid := ie.GetRouteId()
			if rid == "" {
				rid = ie.GetTrip().GetRouteId()
			}
			if rid != "" && !routeSet[rid] {
				alert.RouteIDs = append(alert.RouteIDs, rid)
				routeSet[rid] = true
			}
			if sid := ie.GetStopId(); sid != "" && !stopSet[sid] {
				alert.StopIDs = append(alert.StopIDs, sid)
				stopSet[sid] = true
			}
		}

		for _, p := range a.GetActivePeriod() {
			var period Period
			if s := p.GetStart(); s != 0 {
				period.Start = time.Unix(int64(s), 0)
			}
			if e := p.GetEnd(); e != 0 {
				period.End = time.Unix(int64(e), 0)
			}
			alert.Periods = append(alert.Periods, period)
		}

		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func getTranslation(ts *gtfs.TranslatedString) string {
	if ts == nil {
		return ""
	}
	for _, t := range ts.GetTranslation() {
		if text := t.GetText(); text != "" {
			return text
		}
	}
	return ""
}
