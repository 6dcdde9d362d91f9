package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLookups(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	dir.Put(MasterUser{
		GUID:         "u1",
		GLID:         "AB12",
		PrimaryEmail: "ab@example.com",
		PrimaryPhone: "5550100",
		Location:     "IN",
	}, Profile{Name: "Ab"})

	tests := []struct {
		name   string
		lookup func() (*MasterUser, error)
		want   string
	}{
		{"by glid is case insensitive", func() (*MasterUser, error) { return dir.MasterByGLID(ctx, " ab12 ") }, "u1"},
		{"by guid", func() (*MasterUser, error) { return dir.MasterByGUID(ctx, "u1") }, "u1"},
		{"by email", func() (*MasterUser, error) { return dir.MasterByContact(ctx, ContactEmail, "AB@example.com") }, "u1"},
		{"by phone", func() (*MasterUser, error) { return dir.MasterByContact(ctx, ContactPhone, "5550100") }, "u1"},
		{"missing glid", func() (*MasterUser, error) { return dir.MasterByGLID(ctx, "zz") }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lookup()
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.GUID)
		})
	}

	profile, err := dir.Profile(ctx, "ab12", "IN")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Ab", profile.Name)

	missing, err := dir.Profile(ctx, "ab12", "US")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemorySetPasswordHash(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	dir.Put(MasterUser{GUID: "u1", GLID: "ab12"}, Profile{})

	require.NoError(t, dir.SetPasswordHash(ctx, "u1", "hash"))
	got, _ := dir.MasterByGUID(ctx, "u1")
	assert.True(t, got.HasPassword())

	require.NoError(t, dir.SetPasswordHash(ctx, "u1", ""))
	got, _ = dir.MasterByGUID(ctx, "u1")
	assert.False(t, got.HasPassword())

	assert.ErrorIs(t, dir.SetPasswordHash(ctx, "nope", "x"), ErrNotFound)
}

func TestMemoryCreateUser(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()

	master, err := dir.CreateUser(ctx, NewUser{
		GLID:          "New1",
		Name:          "New",
		Location:      "IN",
		Email:         "New@Example.com",
		EmailVerified: true,
		Mobile:        "5550100",
		DialCode:      "+91",
	})
	require.NoError(t, err)
	assert.Equal(t, "new1", master.GLID)
	assert.Equal(t, "new@example.com", master.PrimaryEmail)
	assert.Empty(t, master.PrimaryPhone, "unverified phone must not become primary")
	assert.True(t, master.HasVerifiedContact())

	profile, err := dir.Profile(ctx, "new1", "IN")
	require.NoError(t, err)
	require.Len(t, profile.Contacts, 2)
	assert.True(t, profile.Contacts[0].Primary)
	assert.False(t, profile.Contacts[1].Verified)

	_, err = dir.CreateUser(ctx, NewUser{GLID: "NEW1"})
	assert.ErrorIs(t, err, ErrDuplicate)
}
