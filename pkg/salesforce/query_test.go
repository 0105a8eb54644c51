package salesforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLeadByID(t *testing.T) {
	t.Run("returns lead when found", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, "Id = '00Qxx'")
				assert.Contains(t, soql, "SELECT Id, FirstName")
				assert.Contains(t, soql, "LIMIT 1")

				leads := out.(*[]Lead)
				*leads = []Lead{
					{ID: "00Qxx", LastName: "Rivera", Company: "Acme Corp"},
				}
				return nil
			},
		}

		lead, err := FindLeadByID(context.Background(), mock, "00Qxx")
		require.NoError(t, err)
		require.NotNil(t, lead)
		assert.Equal(t, "00Qxx", lead.ID)
		assert.Equal(t, "Rivera", lead.LastName)
	})

	t.Run("returns nil when not found", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, _ string, out any) error {
				leads := out.(*[]Lead)
				*leads = []Lead{}
				return nil
			},
		}

		lead, err := FindLeadByID(context.Background(), mock, "missing")
		require.NoError(t, err)
		assert.Nil(t, lead)
	})

	t.Run("escapes single quotes", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, _ any) error {
				assert.Contains(t, soql, `Id = '00Q\''`)
				return nil
			},
		}

		_, err := FindLeadByID(context.Background(), mock, "00Q'")
		require.NoError(t, err)
	})

	t.Run("returns error on query failure", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, _ string, _ any) error {
				return errors.New("connection refused")
			},
		}

		lead, err := FindLeadByID(context.Background(), mock, "00Qxx")
		assert.Error(t, err)
		assert.Nil(t, lead)
		assert.Contains(t, err.Error(), "find lead by id")
	})
}

func TestLeadsModifiedSince(t *testing.T) {
	since := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

	t.Run("builds SOQL with datetime literal", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, "FROM Lead")
				assert.Contains(t, soql, "IsConverted = false")
				assert.Contains(t, soql, "LastModifiedDate >= 2026-02-01T09:30:00Z")
				assert.Contains(t, soql, "ORDER BY LastModifiedDate ASC")
				assert.NotContains(t, soql, "LIMIT")

				leads := out.(*[]Lead)
				*leads = []Lead{{ID: "00Qaa"}, {ID: "00Qbb"}}
				return nil
			},
		}

		leads, err := LeadsModifiedSince(context.Background(), mock, since, 0)
		require.NoError(t, err)
		require.Len(t, leads, 2)
		assert.Equal(t, "00Qaa", leads[0].ID)
	})

	t.Run("applies limit when positive", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, _ any) error {
				assert.Contains(t, soql, "LIMIT 500")
				return nil
			},
		}

		_, err := LeadsModifiedSince(context.Background(), mock, since, 500)
		require.NoError(t, err)
	})

	t.Run("converts local time to UTC", func(t *testing.T) {
		local := time.FixedZone("EST", -5*3600)
		localSince := time.Date(2026, 2, 1, 9, 30, 0, 0, local)
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, _ any) error {
				assert.Contains(t, soql, "2026-02-01T14:30:00Z")
				return nil
			},
		}

		_, err := LeadsModifiedSince(context.Background(), mock, localSince, 0)
		require.NoError(t, err)
	})

	t.Run("returns error on query failure", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, _ string, _ any) error {
				return errors.New("timeout")
			},
		}

		_, err := LeadsModifiedSince(context.Background(), mock, since, 0)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "leads modified since")
	})
}
