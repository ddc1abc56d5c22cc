package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumeworks/plume/internal/models"
)

func requestColumns() []string {
	return []string{"request_id", "user_id", "category", "context", "requirements", "additional_info"}
}

func TestSaveRequest(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectExec("INSERT INTO writing_requests").
		WithArgs("req-1", "user-1", models.CategoryCoverLetter,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "Mention the referral.",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := &models.WritingRequest{
		RequestID:      "req-1",
		UserID:         "user-1",
		Category:       models.CategoryCoverLetter,
		Context:        map[string]interface{}{"company": "Acme"},
		Requirements:   models.Requirements{MaxWords: 400},
		AdditionalInfo: "Mention the referral.",
	}
	require.NoError(t, c.SaveRequest(context.Background(), req))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRequestRequiresID(t *testing.T) {
	c, mock := newTestClient(t)

	err := c.SaveRequest(context.Background(), &models.WritingRequest{UserID: "user-1"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequestRoundTrip(t *testing.T) {
	c, mock := newTestClient(t)

	rows := sqlmock.NewRows(requestColumns()).AddRow(
		"req-1", "user-1", models.CategoryCoverLetter,
		[]byte(`{"company":"Acme","job_title":"Staff Engineer"}`),
		[]byte(`{"max_words":400,"mode":"balanced"}`),
		nil,
	)
	mock.ExpectQuery("SELECT request_id, user_id, category").
		WithArgs("req-1").
		WillReturnRows(rows)

	req, err := c.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, req)

	assert.Equal(t, "Acme", req.Context["company"])
	assert.Equal(t, 400, req.Requirements.MaxWords)
	assert.Equal(t, models.ModeBalanced, req.Requirements.Mode)
	assert.Empty(t, req.AdditionalInfo)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequestAbsentReturnsNil(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectQuery("SELECT request_id, user_id, category").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(requestColumns()))

	req, err := c.GetRequest(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, req)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRequests(t *testing.T) {
	c, mock := newTestClient(t)

	rows := sqlmock.NewRows(requestColumns()).
		AddRow("req-2", "user-1", models.CategoryEmail, []byte(`{"subject":"Follow up"}`), []byte(`{}`), nil).
		AddRow("req-1", "user-1", models.CategoryCoverLetter, []byte(`{"company":"Acme"}`), []byte(`{"max_words":400}`), "Referral")
	mock.ExpectQuery("SELECT request_id, user_id, category").
		WithArgs("user-1", 10).
		WillReturnRows(rows)

	reqs, err := c.ListRequests(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, "req-2", reqs[0].RequestID)
	assert.Equal(t, models.CategoryEmail, reqs[0].Category)
	assert.Equal(t, "Referral", reqs[1].AdditionalInfo)
	require.NoError(t, mock.ExpectationsWereMet())
}
