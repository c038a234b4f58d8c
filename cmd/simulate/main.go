package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Mode         string // "load" or "race"
	Duration     time.Duration
	Workers      int
	RaceRequests int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	DaysAhead    int
	PostgresDSN  string
}

type service struct {
	ID      uuid.UUID
	Minutes int
}

type DataPool struct {
	Pets     []uuid.UUID
	Vets     []uuid.UUID
	Services []service
	Date     time.Time

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Slots   OperationMetrics
	List    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	cfg := loadConfig()
	logger := logging.New("simulate", os.Getenv("APP_ENV"))
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("pets", len(dataPool.Pets)).
		Int("vets", len(dataPool.Vets)).
		Int("services", len(dataPool.Services)).
		Str("date", dataPool.Date.Format(time.DateOnly)).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	switch cfg.Mode {
	case "race":
		sim.Race(context.Background())
	default:
		sim.Run()
	}
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	dsn := os.Getenv("POSTGRES_DSN")
	if err == nil {
		dsn = baseCfg.PostgresDSN
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Mode:         getEnv("SIM_MODE", "load"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		RaceRequests: getInt("SIM_RACE_REQUESTS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 1),
		PostgresDSN:  dsn,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Mode != "load" && cfg.Mode != "race" {
		return fmt.Errorf("SIM_MODE must be load or race, got %q", cfg.Mode)
	}
	return nil
}

// nextWorkingDay skips weekends, where the seeded vets have no windows.
func nextWorkingDay(from time.Time, daysAhead int) time.Time {
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, max(daysAhead, 1))
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	var (
		dp  = &DataPool{Date: nextWorkingDay(time.Now(), cfg.DaysAhead)}
		err error
	)

	if dp.Pets, err = loadIDs(ctx, pool, `SELECT id FROM pets WHERE active LIMIT 5000`); err != nil {
		return nil, fmt.Errorf("load pets: %w", err)
	}
	if dp.Vets, err = loadIDs(ctx, pool, `SELECT id FROM veterinarians WHERE active`); err != nil {
		return nil, fmt.Errorf("load veterinarians: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT id, standard_duration_minutes FROM clinic_services WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	dp.Services, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (service, error) {
		var s service
		err := row.Scan(&s.ID, &s.Minutes)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}

	if len(dp.Pets) == 0 || len(dp.Vets) == 0 || len(dp.Services) == 0 {
		return nil, fmt.Errorf("database not seeded: pets=%d vets=%d services=%d", len(dp.Pets), len(dp.Vets), len(dp.Services))
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting load simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	s.logger.Info().Msg("simulation complete")
}

// Race fires identical bookings for one vet slot at once. With capacity 1 exactly one should win.
func (s *Simulator) Race(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	vet := s.pool.Vets[0]
	svc := s.pool.Services[0]

	slots, err := s.fetchSlots(ctx, vet, svc.Minutes)
	if err != nil || len(slots) == 0 {
		s.logger.Fatal().Err(err).Str("veterinarian_id", vet.String()).Msg("no free slot to race on")
	}
	start := slots[0].StartTime
	s.logger.Info().Int("requests", s.config.RaceRequests).Str("start_time", start).Msg("starting race")

	ready := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.RaceRequests; i++ {
		pet := s.pool.Pets[rng.Intn(len(s.pool.Pets))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			s.book(ctx, pet, vet, svc, start)
		}()
	}
	close(ready)
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

type slotResponse struct {
	StartTime string `json:"start_time"`
	Remaining int    `json:"remaining"`
}

func (s *Simulator) fetchSlots(ctx context.Context, vet uuid.UUID, minutes int) ([]slotResponse, error) {
	q := url.Values{}
	q.Set("date", s.pool.Date.Format(time.DateOnly))
	q.Set("duration_minutes", strconv.Itoa(minutes))

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/veterinarians/%s/slots?%s", s.config.APIBaseURL, vet, q.Encode()), nil)
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.Slots.Record(time.Since(start), 0)
		return nil, err
	}
	defer resp.Body.Close()
	s.metrics.Slots.Record(time.Since(start), resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slots: status %d", resp.StatusCode)
	}
	var slots []slotResponse
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *Simulator) book(ctx context.Context, pet, vet uuid.UUID, svc service, startTime string) {
	body, _ := json.Marshal(map[string]any{
		"pet_id":          pet.String(),
		"veterinarian_id": vet.String(),
		"service_id":      svc.ID.String(),
		"date":            s.pool.Date.Format(time.DateOnly),
		"start_time":      startTime,
		"reason":          "Routine checkup booked by the simulator",
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, 0)
		return
	}
	defer resp.Body.Close()
	s.metrics.Booking.Record(latency, resp.StatusCode)

	if resp.StatusCode == http.StatusCreated {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(appt.ID)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	vet := s.pool.Vets[rng.Intn(len(s.pool.Vets))]
	svc := s.pool.Services[rng.Intn(len(s.pool.Services))]
	pet := s.pool.Pets[rng.Intn(len(s.pool.Pets))]

	slots, err := s.fetchSlots(ctx, vet, svc.Minutes)
	if err != nil || len(slots) == 0 {
		return
	}
	s.book(ctx, pet, vet, svc, slots[rng.Intn(len(slots))].StartTime)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body, _ := json.Marshal(map[string]string{"reason": "owner unavailable", "actor": "simulator"})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, id), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.Cancel.Record(time.Since(start), 0)
		return
	}
	resp.Body.Close()
	s.metrics.Cancel.Record(time.Since(start), resp.StatusCode)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	vet := s.pool.Vets[rng.Intn(len(s.pool.Vets))]

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments?veterinarian_id=%s&date=%s", s.config.APIBaseURL, vet, s.pool.Date.Format(time.DateOnly)), nil)

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.List.Record(time.Since(start), 0)
		return
	}
	resp.Body.Close()
	s.metrics.List.Record(time.Since(start), resp.StatusCode)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Mode: %s\n", s.config.Mode)
	fmt.Printf("Date: %s\n", s.pool.Date.Format(time.DateOnly))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Free slots", &s.metrics.Slots)
	printOperationReport("List by vet/date", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), worst.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
