package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. It backs single-node deployments and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	pets         map[uuid.UUID]Pet
	vets         map[uuid.UUID]Veterinarian
	services     map[uuid.UUID]ClinicService
	windows      map[uuid.UUID]AvailabilityWindow
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pets:         make(map[uuid.UUID]Pet),
		vets:         make(map[uuid.UUID]Veterinarian),
		services:     make(map[uuid.UUID]ClinicService),
		windows:      make(map[uuid.UUID]AvailabilityWindow),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *MemoryStore) AddPet(p Pet) Pet {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pets[p.ID] = p
	return p
}

func (m *MemoryStore) AddVeterinarian(v Veterinarian) Veterinarian {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vets[v.ID] = v
	return v
}

func (m *MemoryStore) AddService(s ClinicService) ClinicService {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
	return s
}

// AddWindow rejects windows that break the window invariants.
func (m *MemoryStore) AddWindow(w AvailabilityWindow) (AvailabilityWindow, error) {
	if err := w.Validate(); err != nil {
		return AvailabilityWindow{}, err
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.ID] = w
	return w, nil
}

// Events returns a copy of the event log.
func (m *MemoryStore) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}

func (m *MemoryStore) GetPetByID(_ context.Context, id uuid.UUID) (*Pet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pets[id]
	if !ok {
		return nil, &NotFoundError{Entity: "pet", ID: id}
	}
	return &p, nil
}

func (m *MemoryStore) GetVeterinarianByID(_ context.Context, id uuid.UUID) (*Veterinarian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vets[id]
	if !ok {
		return nil, &NotFoundError{Entity: "veterinarian", ID: id}
	}
	return &v, nil
}

func (m *MemoryStore) GetServiceByID(_ context.Context, id uuid.UUID) (*ClinicService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, &NotFoundError{Entity: "service", ID: id}
	}
	return &s, nil
}

func (m *MemoryStore) ListWindows(_ context.Context, vetID uuid.UUID, day time.Weekday) ([]AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AvailabilityWindow
	for _, w := range m.windows {
		if w.VeterinarianID == vetID && w.Weekday == day {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, &NotFoundError{Entity: "appointment", ID: id}
	}
	return &a, nil
}

func (m *MemoryStore) ListAppointmentsByVetDate(_ context.Context, vetID uuid.UUID, date time.Time) ([]Appointment, error) {
	day := DateOf(date)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.VeterinarianID == vetID && a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryStore) ListOpenAppointments(_ context.Context, onOrBefore time.Time) ([]Appointment, error) {
	day := DateOf(onOrBefore)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if (a.Status == StatusScheduled || a.Status == StatusConfirmed) && !a.Date.After(day) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *MemoryStore) InsertAppointment(_ context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[appt.ID] = *appt
	return nil
}

func (m *MemoryStore) UpdateAppointment(_ context.Context, appt *Appointment, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(*appt, from)
}

func (m *MemoryStore) updateLocked(appt Appointment, from Status) error {
	cur, ok := m.appointments[appt.ID]
	if !ok {
		return &NotFoundError{Entity: "appointment", ID: appt.ID}
	}
	if cur.Status != from {
		return ErrStaleAppointment
	}
	appt.CreatedAt = cur.CreatedAt
	m.appointments[appt.ID] = appt
	return nil
}

func (m *MemoryStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// WithTx stages writes and applies them under a single lock acquisition.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx AppointmentStore) error) error {
	tx := &memoryTx{store: m, staged: make(map[uuid.UUID]Appointment)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type memoryOp struct {
	appt   Appointment
	from   Status
	insert bool
}

type memoryTx struct {
	store  *MemoryStore
	staged map[uuid.UUID]Appointment
	ops    []memoryOp
	events []EventLog
}

func (t *memoryTx) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := t.staged[id]; ok {
		return &a, nil
	}
	return t.store.GetAppointmentByID(ctx, id)
}

func (t *memoryTx) ListAppointmentsByVetDate(ctx context.Context, vetID uuid.UUID, date time.Time) ([]Appointment, error) {
	base, err := t.store.ListAppointmentsByVetDate(ctx, vetID, date)
	if err != nil {
		return nil, err
	}
	day := DateOf(date)
	seen := make(map[uuid.UUID]bool, len(base))
	out := base[:0]
	for _, a := range base {
		if s, ok := t.staged[a.ID]; ok {
			a = s
		}
		seen[a.ID] = true
		if a.VeterinarianID == vetID && a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	for id, a := range t.staged {
		if !seen[id] && a.VeterinarianID == vetID && a.Date.Equal(day) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t *memoryTx) InsertAppointment(_ context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	t.staged[appt.ID] = *appt
	t.ops = append(t.ops, memoryOp{appt: *appt, insert: true})
	return nil
}

func (t *memoryTx) UpdateAppointment(ctx context.Context, appt *Appointment, from Status) error {
	cur, err := t.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		return err
	}
	if cur.Status != from {
		return ErrStaleAppointment
	}
	t.staged[appt.ID] = *appt
	t.ops = append(t.ops, memoryOp{appt: *appt, from: from})
	return nil
}

func (t *memoryTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *memoryTx) commit() error {
	m := t.store
	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check conditional updates against committed state before applying anything.
	pending := make(map[uuid.UUID]Status)
	for _, op := range t.ops {
		if op.insert {
			pending[op.appt.ID] = op.appt.Status
			continue
		}
		current, ok := pending[op.appt.ID]
		if !ok {
			cur, exists := m.appointments[op.appt.ID]
			if !exists {
				return &NotFoundError{Entity: "appointment", ID: op.appt.ID}
			}
			current = cur.Status
		}
		if current != op.from {
			return ErrStaleAppointment
		}
		pending[op.appt.ID] = op.appt.Status
	}

	for _, op := range t.ops {
		a := op.appt
		if cur, ok := m.appointments[a.ID]; ok && !op.insert {
			a.CreatedAt = cur.CreatedAt
		}
		m.appointments[a.ID] = a
	}
	for _, ev := range t.events {
		ev.ID = int64(len(m.events) + 1)
		m.events = append(m.events, ev)
	}
	return nil
}

func sortByStart(appts []Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.Before(appts[j].Date)
		}
		return appts[i].StartTime < appts[j].StartTime
	})
}
