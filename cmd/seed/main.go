package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

type clinicService struct {
	name      string
	price     appointment.Money
	minutes   int
	houseCall bool
	emergency bool
}

var catalog = []clinicService{
	{name: "General Consultation", price: 35000, minutes: 30, houseCall: true, emergency: true},
	{name: "Vaccination", price: 20000, minutes: 15, houseCall: true},
	{name: "Dental Cleaning", price: 80000, minutes: 60},
	{name: "Surgery Evaluation", price: 60000, minutes: 45, emergency: true},
	{name: "Grooming", price: 25000, minutes: 60, houseCall: true},
}

func main() {
	vets := flag.Int("vets", 10, "number of veterinarians")
	pets := flag.Int("pets", 2000, "number of pets")
	flag.Parse()

	logger := logging.New("seed", os.Getenv("APP_ENV"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	repo := appointment.NewPgRepository(pool)
	writeWindow := repo.CreateWindow
	// A running API may have cached the days being seeded.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     addr,
			Username: os.Getenv("REDIS_USERNAME"),
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, window cache not invalidated")
		} else {
			defer rdb.Close()
			cache := redisclient.NewCachedCatalog(appointment.NewScheduleCatalog(repo), rdb, time.Minute, logger)
			writeWindow = func(ctx context.Context, w *appointment.AvailabilityWindow) error {
				return cache.CreateWindow(ctx, repo, w)
			}
		}
	}

	if err := seedVeterinarians(ctx, pool, writeWindow, *vets, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed veterinarians")
	}
	if err := seedServices(ctx, pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed services")
	}
	if err := seedPets(ctx, pool, *pets, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed pets")
	}

	logger.Info().Msg("seed complete")
}

// seedVeterinarians gives every vet a morning and an afternoon window on weekdays.
func seedVeterinarians(ctx context.Context, pool *pgxpool.Pool, writeWindow func(context.Context, *appointment.AvailabilityWindow) error, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding veterinarians")

	slotChoices := []int{15, 20, 30}

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()

		if _, err := pool.Exec(ctx, `
			INSERT INTO veterinarians (id, name, active, created_at, updated_at)
			VALUES ($1, $2, true, now(), now())
		`, id, name); err != nil {
			return err
		}

		slot := slotChoices[gofakeit.Number(0, len(slotChoices)-1)]
		capacity := gofakeit.Number(1, 2)

		for day := time.Monday; day <= time.Friday; day++ {
			for _, span := range [][2]string{{"09:00", "12:00"}, {"14:00", "18:00"}} {
				w := &appointment.AvailabilityWindow{
					ID:             uuid.New(),
					VeterinarianID: id,
					Weekday:        day,
					Start:          appointment.MustTimeOfDay(span[0]),
					End:            appointment.MustTimeOfDay(span[1]),
					SlotMinutes:    slot,
					MaxConcurrent:  capacity,
					Active:         true,
				}
				if err := writeWindow(ctx, w); err != nil {
					return fmt.Errorf("window for %s: %w", id, err)
				}
			}
		}
		logger.Debug().Str("veterinarian_id", id.String()).Str("name", name).Int("slot_minutes", slot).Msg("veterinarian seeded")
	}

	logger.Info().Msg("veterinarians seeded")
	return nil
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	logger.Info().Int("count", len(catalog)).Msg("seeding clinic services")

	batch := &pgx.Batch{}
	for _, s := range catalog {
		batch.Queue(`
			INSERT INTO clinic_services
				(id, name, base_price_cents, standard_duration_minutes, allows_house_call, allows_emergency, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
		`, uuid.New(), s.name, int64(s.price), s.minutes, s.houseCall, s.emergency)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	logger.Info().Msg("clinic services seeded")
	return nil
}

func seedPets(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding pets")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			owner := uuid.New()
			for i := offset; i < end; i++ {
				// a few pets per owner
				if i%3 == 0 {
					owner = uuid.New()
				}
				if _, err := tx.Exec(ctx, `
					INSERT INTO pets (id, owner_id, name, species, active, created_at, updated_at)
					VALUES ($1, $2, $3, $4, true, now(), now())
				`, uuid.New(), owner, gofakeit.PetName(), gofakeit.AnimalType()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("pets progress")
	}

	logger.Info().Msg("pets seeded")
	return nil
}
