package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/db"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	PatientLimit    int
	DoctorLimit     int
	DaysAhead       int
	PostgresDSN     string
	Location        *time.Location
}

type slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type booked struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Version  int
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.Mutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

// TakeAppointment removes and returns a random appointment so only one
// worker mutates it at a time from the simulator's side.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	idx := rng.Intn(len(dp.appointments))
	b := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return b, true
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
	case status == http.StatusConflict || status == http.StatusBadRequest:
		// 400 here is almost always a slot taken between read and write
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), pct(50), pct(95), pct(99)
}

type Metrics struct {
	Availability OperationMetrics
	Booking      OperationMetrics
	Reschedule   OperationMetrics
	Cancel       OperationMetrics
	ReadByID     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	cfg, baseCfg := loadConfig()

	log, err := logger.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("simulate")

	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("reschedule", cfg.RescheduleRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.Location)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data loaded", zap.Int("patients", len(dataPool.Patients)), zap.Int("doctors", len(dataPool.Doctors)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := auditOverlaps(context.Background(), pgPool)
	if err != nil {
		log.Fatal("overlap audit failed", zap.Error(err))
	}
	if overlaps > 0 {
		log.Error("overlapping scheduled appointments found", zap.Int("pairs", overlaps))
		os.Exit(2)
	}
	log.Info("overlap audit passed")
}

func loadConfig() (SimConfig, config.Config) {
	baseCfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 20),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.25),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:     getInt("SIM_DOCTOR_LIMIT", 10),
		DaysAhead:       getInt("SIM_DAYS_AHEAD", 5),
		PostgresDSN:     baseCfg.PostgresDSN,
		Location:        baseCfg.Location,
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, baseCfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	var err error
	dataPool.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	// A small doctor set keeps contention high.
	dataPool.Doctors, err = loadIDs(ctx, pool, `
		SELECT d.id FROM doctors d
		WHERE d.is_active AND EXISTS (SELECT 1 FROM doctor_schedules s WHERE s.doctor_id = d.id AND s.is_active)
		ORDER BY d.id
		LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors with schedules loaded")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// auditOverlaps counts pairs of SCHEDULED appointments of one doctor whose
// intervals intersect. Anything above zero is a correctness failure.
func auditOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.doctor_id = b.doctor_id
		 AND a.id < b.id
		 AND a.slot_start < b.slot_end
		 AND b.slot_start < a.slot_end
		WHERE a.status = 'SCHEDULED' AND b.status = 'SCHEDULED'
	`).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doReadByID(ctx, rng)
		}
	}
}

func (s *Simulator) randomDate(rng *rand.Rand) string {
	return time.Now().In(s.config.Location).AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)).Format(time.DateOnly)
}

// pickSlot reads a doctor's availability and returns one free slot.
func (s *Simulator) pickSlot(ctx context.Context, rng *rand.Rand, doctorID uuid.UUID) (slot, bool) {
	url := fmt.Sprintf("%s/v1/doctors/%s/availability?date=%s", s.config.APIBaseURL, doctorID, s.randomDate(rng))

	var resp struct {
		Slots []slot `json:"slots"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, url, nil, &resp)
	if err != nil {
		return slot{}, false
	}
	s.metrics.Availability.Record(time.Since(start), status)

	if status != http.StatusOK || len(resp.Slots) == 0 {
		return slot{}, false
	}
	// Favour early slots so workers collide on the same ones.
	return resp.Slots[rng.Intn(min(len(resp.Slots), 3))], true
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	sl, ok := s.pickSlot(ctx, rng, doctorID)
	if !ok {
		return
	}

	body := map[string]any{
		"patient_id": s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"doctor_id":  doctorID,
		"slot_start": sl.Start,
		"slot_end":   sl.End,
		"notes":      gofakeit.Sentence(6),
	}
	var appt struct {
		ID      uuid.UUID `json:"id"`
		Version int       `json:"version"`
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, s.config.APIBaseURL+"/v1/appointments", body, &appt)
	if err != nil {
		return
	}
	s.metrics.Booking.Record(time.Since(start), status)

	if status == http.StatusCreated && appt.ID != uuid.Nil {
		s.pool.AddAppointment(booked{ID: appt.ID, DoctorID: doctorID, Version: appt.Version})
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}
	sl, ok := s.pickSlot(ctx, rng, b.DoctorID)
	if !ok {
		s.pool.AddAppointment(b)
		return
	}

	body := map[string]any{
		"expected_version": b.Version,
		"slot_start":       sl.Start,
		"slot_end":         sl.End,
	}
	var appt struct {
		Version int `json:"version"`
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPut,
		fmt.Sprintf("%s/v1/appointments/%s/reschedule", s.config.APIBaseURL, b.ID), body, &appt)
	if err != nil {
		s.pool.AddAppointment(b)
		return
	}
	s.metrics.Reschedule.Record(time.Since(start), status)

	if status == http.StatusOK {
		b.Version = appt.Version
	}
	s.pool.AddAppointment(b)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	body := map[string]any{
		"expected_version": b.Version,
		"reason":           gofakeit.Sentence(4),
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPut,
		fmt.Sprintf("%s/v1/appointments/%s/cancel", s.config.APIBaseURL, b.ID), body, nil)
	if err != nil {
		s.pool.AddAppointment(b)
		return
	}
	s.metrics.Cancel.Record(time.Since(start), status)

	if status != http.StatusOK {
		s.pool.AddAppointment(b)
	}
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}
	defer s.pool.AddAppointment(b)

	start := time.Now()
	status, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/appointments/%s", s.config.APIBaseURL, b.ID), nil, nil)
	if err != nil {
		return
	}
	s.metrics.ReadByID.Record(time.Since(start), status)
}

// call sends body as JSON and decodes a 2xx response into out. Requests cut
// short by the end of the run are not recorded.
func (s *Simulator) call(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", "sim-"+uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Debug("request failed", zap.String("url", url), zap.Error(err))
		}
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Doctors: %d\n", len(s.pool.Doctors))
	fmt.Println()

	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), p99.Round(time.Millisecond))
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
