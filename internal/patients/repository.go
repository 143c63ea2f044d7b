package patients

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for patient storage
type Repository interface {
	Create(ctx context.Context, req *CreatePatientRequest) (*Patient, error)
	GetByID(ctx context.Context, practiceID, id string) (*Patient, error)
	GetByMRN(ctx context.Context, practiceID, mrn string) (*Patient, error)
	Update(ctx context.Context, practiceID, id string, req *UpdatePatientRequest) (*Patient, error)
	Archive(ctx context.Context, practiceID, id string) error
	List(ctx context.Context, practiceID string, filter ListPatientsFilter) ([]*Patient, error)
}

// InMemoryRepository is a stub implementation of Repository using in-memory storage
type InMemoryRepository struct {
	mu       sync.RWMutex
	patients map[string]*Patient
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		patients: make(map[string]*Patient),
	}
}

// Create registers a new patient in memory
func (r *InMemoryRepository) Create(ctx context.Context, req *CreatePatientRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	mrn := req.MRN
	if mrn == "" {
		mrn = NewMRN()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.patients {
		if existing.PracticeID == req.PracticeID && existing.MRN == mrn {
			return nil, ErrDuplicateMRN
		}
	}

	now := time.Now().UTC()
	patient := &Patient{
		ID:           uuid.New().String(),
		PracticeID:   req.PracticeID,
		MRN:          mrn,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DOB:          req.DOB,
		Sex:          req.Sex,
		Email:        req.Email,
		Phone:        req.Phone,
		AddressLine1: req.AddressLine1,
		AddressLine2: req.AddressLine2,
		City:         req.City,
		State:        req.State,
		PostalCode:   req.PostalCode,
		Allergies:    append([]string(nil), req.Allergies...),
		Tags:         append([]string(nil), req.Tags...),
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.patients[patient.ID] = patient

	return patient, nil
}

// GetByID retrieves a patient scoped to the practice
func (r *InMemoryRepository) GetByID(ctx context.Context, practiceID, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patient, ok := r.patients[id]
	if !ok || patient.PracticeID != practiceID {
		return nil, ErrPatientNotFound
	}

	return patient, nil
}

// GetByMRN retrieves a patient by registry number
func (r *InMemoryRepository) GetByMRN(ctx context.Context, practiceID, mrn string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, patient := range r.patients {
		if patient.PracticeID == practiceID && patient.MRN == mrn {
			return patient, nil
		}
	}
	return nil, ErrPatientNotFound
}

// Update replaces the mutable fields of a patient
func (r *InMemoryRepository) Update(ctx context.Context, practiceID, id string, req *UpdatePatientRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	patient, ok := r.patients[id]
	if !ok || patient.PracticeID != practiceID {
		return nil, ErrPatientNotFound
	}

	patient.FirstName = req.FirstName
	patient.LastName = req.LastName
	patient.Sex = req.Sex
	patient.Email = req.Email
	patient.Phone = req.Phone
	patient.AddressLine1 = req.AddressLine1
	patient.AddressLine2 = req.AddressLine2
	patient.City = req.City
	patient.State = req.State
	patient.PostalCode = req.PostalCode
	patient.Allergies = append([]string(nil), req.Allergies...)
	patient.Tags = append([]string(nil), req.Tags...)
	if req.Status != "" {
		patient.Status = req.Status
	}
	patient.UpdatedAt = time.Now().UTC()

	return patient, nil
}

// Archive soft-deletes a patient
func (r *InMemoryRepository) Archive(ctx context.Context, practiceID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	patient, ok := r.patients[id]
	if !ok || patient.PracticeID != practiceID {
		return ErrPatientNotFound
	}

	patient.Status = StatusArchived
	patient.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns patients matching the filter, newest first
func (r *InMemoryRepository) List(ctx context.Context, practiceID string, filter ListPatientsFilter) ([]*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	var matched []*Patient
	for _, patient := range r.patients {
		if patient.PracticeID != practiceID {
			continue
		}
		if filter.Status == "" {
			if patient.Status == StatusArchived {
				continue
			}
		} else if patient.Status != filter.Status {
			continue
		}
		if query != "" && !matchesQuery(patient, query) {
			continue
		}
		matched = append(matched, patient)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func matchesQuery(p *Patient, query string) bool {
	if strings.HasPrefix(strings.ToLower(p.MRN), query) {
		return true
	}
	full := strings.ToLower(p.FirstName + " " + p.LastName)
	return strings.Contains(full, query)
}
