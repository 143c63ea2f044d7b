package providers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProviderRequest_Validate(t *testing.T) {
	valid := CreateProviderRequest{
		PracticeID: "prac-1",
		NPI:        "1234567890",
		FirstName:  "Dana",
		LastName:   "Okafor",
	}

	tests := []struct {
		name    string
		mutate  func(*CreateProviderRequest)
		wantErr error
	}{
		{"valid", func(r *CreateProviderRequest) {}, nil},
		{"short npi", func(r *CreateProviderRequest) { r.NPI = "12345" }, ErrInvalidNPI},
		{"non numeric npi", func(r *CreateProviderRequest) { r.NPI = "12345abcde" }, ErrInvalidNPI},
		{"missing first name", func(r *CreateProviderRequest) { r.FirstName = "" }, ErrInvalidName},
		{"missing last name", func(r *CreateProviderRequest) { r.LastName = "  " }, ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec("INSERT INTO providers").
		WillReturnResult(sqlmock.NewResult(1, 1))

	p, err := repo.Create(context.Background(), &CreateProviderRequest{
		PracticeID:  "prac-1",
		NPI:         "1234567890",
		FirstName:   "Dana",
		LastName:    "Okafor",
		Credentials: "MD",
		Specialties: []string{"Family Medicine"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Create_DuplicateNPI(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec("INSERT INTO providers").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err = repo.Create(context.Background(), &CreateProviderRequest{
		PracticeID: "prac-1",
		NPI:        "1234567890",
		FirstName:  "Dana",
		LastName:   "Okafor",
	})
	assert.ErrorIs(t, err, ErrDuplicateNPI)
}

func TestRepository_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	cols := []string{"id", "practice_id", "npi", "first_name", "last_name", "credentials", "specialties", "color", "active", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM providers").
		WithArgs("prac-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("prov-1", "prac-1", "1234567890", "Dana", "Okafor", "MD", "{Family Medicine}", "#2563eb", true, time.Now().UTC()))

	list, err := repo.List(context.Background(), "prac-1", false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Okafor", list[0].LastName)
	assert.Equal(t, []string{"Family Medicine"}, list[0].Specialties)
}

func TestRepository_List_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	cols := []string{"id", "practice_id", "npi", "first_name", "last_name", "credentials", "specialties", "color", "active", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM providers").
		WithArgs("prac-1").
		WillReturnRows(sqlmock.NewRows(cols))

	list, err := repo.List(context.Background(), "prac-1", true)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestRepository_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM providers").
		WithArgs("prov-404", "prac-1").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "prac-1", "prov-404")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRepository_Deactivate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec("UPDATE providers SET active").
		WithArgs("prov-1", "prac-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Deactivate(context.Background(), "prac-1", "prov-1")
	assert.NoError(t, err)
}

func TestRepository_Deactivate_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec("UPDATE providers SET active").
		WithArgs("prov-404", "prac-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Deactivate(context.Background(), "prac-1", "prov-404")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
