package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/db"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
)

var departments = map[string][]string{
	"Cardiology":       {"Interventional Cardiology", "Electrophysiology"},
	"Dermatology":      {"Medical Dermatology", "Dermatopathology"},
	"General Medicine": {"Internal Medicine", "Family Medicine"},
	"Neurology":        {"Epilepsy", "Stroke"},
	"Orthopedics":      {"Sports Medicine", "Spine Surgery"},
	"Pediatrics":       {"Neonatology", "Pediatric Endocrinology"},
	"Ophthalmology":    {"Retina", "Glaucoma"},
	"ENT":              {"Otology", "Rhinology"},
}

var slotDurations = []int{15, 20, 30, 30, 30, 45}

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("seed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.Location)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, log).Up(ctx); err != nil {
		log.Fatal("apply schema", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctorCount := getInt("SEED_DOCTORS", 40)
	patientCount := getInt("SEED_PATIENTS", 5000)

	doctors, err := seedDoctors(ctx, pool, log, doctorCount)
	if err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedOverrides(ctx, pool, log, doctors, cfg.Location); err != nil {
		log.Fatal("seed overrides", zap.Error(err))
	}
	if err := seedPatients(ctx, pool, log, patientCount); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

// seedDoctors creates doctors with weekday morning and afternoon templates.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, count int) ([]uuid.UUID, error) {
	log.Info("seeding doctors", zap.Int("count", count))

	names := make([]string, 0, len(departments))
	for d := range departments {
		names = append(names, d)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		dept := gofakeit.RandomString(names)
		spec := gofakeit.RandomString(departments[dept])

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, department, specialization, is_active, max_daily_appointments)
			VALUES ($1, $2, $3, $4, true, $5)
		`, id, "Dr. "+gofakeit.Name(), dept, spec, gofakeit.Number(8, 24))
		if err != nil {
			return nil, err
		}

		slot := slotDurations[gofakeit.Number(0, len(slotDurations)-1)]
		for day := time.Monday; day <= time.Friday; day++ {
			for _, block := range [][2]string{{"09:00", "12:00"}, {"13:00", "17:00"}} {
				if block[0] == "13:00" && gofakeit.Number(0, 4) == 0 {
					continue // some doctors keep afternoons free
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO doctor_schedules (id, doctor_id, day_of_week, start_time, end_time, slot_duration, is_active)
					VALUES ($1, $2, $3, $4::time, $5::time, $6, true)
				`, uuid.New(), id, int16(day), block[0], block[1], slot)
				if err != nil {
					return nil, err
				}
			}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	log.Info("doctors seeded")
	return ids, nil
}

// seedOverrides gives some doctors leave, a blocked hour or an extra
// Saturday clinic over the next two weeks.
func seedOverrides(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, doctors []uuid.UUID, loc *time.Location) error {
	today := time.Now().In(loc)
	batch := &pgx.Batch{}

	for _, id := range doctors {
		if gofakeit.Number(0, 2) != 0 {
			continue
		}
		date := today.AddDate(0, 0, gofakeit.Number(1, 14)).Format(time.DateOnly)

		switch gofakeit.Number(0, 2) {
		case 0:
			batch.Queue(`
				INSERT INTO doctor_availability_overrides (id, doctor_id, date, is_available, reason)
				VALUES ($1, $2, $3::date, false, $4)
				ON CONFLICT (doctor_id, date) DO NOTHING
			`, uuid.New(), id, date, "annual leave")
		case 1:
			batch.Queue(`
				INSERT INTO doctor_availability_overrides (id, doctor_id, date, start_time, end_time, is_available, reason)
				VALUES ($1, $2, $3::date, '10:00'::time, '11:00'::time, false, $4)
				ON CONFLICT (doctor_id, date) DO NOTHING
			`, uuid.New(), id, date, "department meeting")
		default:
			saturday := today.AddDate(0, 0, (int(time.Saturday)-int(today.Weekday())+7)%7+7).Format(time.DateOnly)
			batch.Queue(`
				INSERT INTO doctor_availability_overrides (id, doctor_id, date, start_time, end_time, is_available, reason)
				VALUES ($1, $2, $3::date, '09:00'::time, '12:00'::time, true, $4)
				ON CONFLICT (doctor_id, date) DO NOTHING
			`, uuid.New(), id, saturday, "extra clinic")
		}
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	log.Info("overrides seeded", zap.Int("count", batch.Len()))
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger, count int) error {
	log.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone)
				VALUES ($1, $2, $3, $4)
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Debug("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	log.Info("patients seeded")
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
