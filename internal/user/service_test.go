package user

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/security"
)

// --- モック ---

type mockStore struct {
	findUserByIDFn      func(ctx context.Context, id string) (*model.User, error)
	updateUserNameFn    func(ctx context.Context, id string, name *string) (*model.User, error)
	updateUserProfileFn func(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
}

func (m *mockStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	if m.findUserByIDFn != nil {
		return m.findUserByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, nil
}
func (m *mockStore) FindUserByAccount(ctx context.Context, provider, providerAccountID string) (*model.User, error) {
	return nil, nil
}
func (m *mockStore) UpdateUserName(ctx context.Context, id string, name *string) (*model.User, error) {
	return m.updateUserNameFn(ctx, id, name)
}
func (m *mockStore) UpdateUserProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	return m.updateUserProfileFn(ctx, id, update)
}
func (m *mockStore) CreateUserWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	return nil
}
func (m *mockStore) LinkAccount(ctx context.Context, account *model.Account) error {
	return nil
}

func newTestService(store *mockStore) *Service {
	return NewService(store, security.NewNameSanitizer(), security.NewSSRFGuard())
}

func strPtr(s string) *string { return &s }

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestService_Profile(t *testing.T) {
	store := &mockStore{
		findUserByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: strPtr("a@b.com"), Role: model.RoleUser}, nil
		},
	}

	user, err := newTestService(store).Profile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("ID = %q, want u1", user.ID)
	}
}

func TestService_Profile_NotFound(t *testing.T) {
	_, err := newTestService(&mockStore{}).Profile(context.Background(), "gone")
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestService_Profile_StoreError(t *testing.T) {
	store := &mockStore{
		findUserByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, errors.New("connection refused")
		},
	}
	_, err := newTestService(store).Profile(context.Background(), "u1")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestService_UpdateProfile_SanitizesName(t *testing.T) {
	var gotName *string
	store := &mockStore{
		updateUserNameFn: func(ctx context.Context, id string, name *string) (*model.User, error) {
			gotName = name
			return &model.User{ID: id, Name: name}, nil
		},
	}

	user, err := newTestService(store).UpdateProfile(context.Background(), "u1", UpdateProfileInput{
		Name: strPtr("<b>Alice</b>  <script>alert(1)</script>"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if gotName == nil || *gotName != "Alice" {
		t.Errorf("stored name = %v, want Alice", gotName)
	}
	if model.StringValue(user.Name) != "Alice" {
		t.Errorf("returned name = %q", model.StringValue(user.Name))
	}
}

func TestService_UpdateProfile_EmptyNameClears(t *testing.T) {
	var called bool
	store := &mockStore{
		updateUserNameFn: func(ctx context.Context, id string, name *string) (*model.User, error) {
			called = true
			if name != nil {
				t.Errorf("name = %q, want nil", *name)
			}
			return &model.User{ID: id}, nil
		},
	}

	if _, err := newTestService(store).UpdateProfile(context.Background(), "u1", UpdateProfileInput{Name: strPtr("   ")}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if !called {
		t.Error("UpdateUserName was not called")
	}
}

func TestService_UpdateProfile_NameTooLong(t *testing.T) {
	store := &mockStore{
		updateUserNameFn: func(ctx context.Context, id string, name *string) (*model.User, error) {
			t.Fatal("store should not be called")
			return nil, nil
		},
	}
	_, err := newTestService(store).UpdateProfile(context.Background(), "u1", UpdateProfileInput{
		Name: strPtr(strings.Repeat("あ", maxNameLength+1)),
	})
	assertCode(t, err, model.ErrCodeValidationFailed)
}

func TestService_UpdateProfile_NothingToUpdate(t *testing.T) {
	_, err := newTestService(&mockStore{}).UpdateProfile(context.Background(), "u1", UpdateProfileInput{})
	assertCode(t, err, model.ErrCodeValidationFailed)
}

func TestService_UpdateProfile_Image(t *testing.T) {
	tests := []struct {
		name    string
		image   string
		wantErr bool
	}{
		{"https", "https://lh3.googleusercontent.com/a/photo.jpg", false},
		{"http", "http://img.example.com/a.png", true},
		{"private ip", "https://192.168.0.1/a.png", true},
		{"metadata", "https://169.254.169.254/latest", true},
		{"javascript", "javascript:alert(1)", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stored *string
			store := &mockStore{
				updateUserProfileFn: func(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
					stored = update.Image
					return &model.User{ID: id, Image: update.Image}, nil
				},
			}

			_, err := newTestService(store).UpdateProfile(context.Background(), "u1", UpdateProfileInput{Image: strPtr(tt.image)})
			if tt.wantErr {
				assertCode(t, err, model.ErrCodeInvalidImageURL)
				if stored != nil {
					t.Error("image should not be stored")
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateProfile() error = %v", err)
			}
			if model.StringValue(stored) != tt.image {
				t.Errorf("stored = %q, want %q", model.StringValue(stored), tt.image)
			}
		})
	}
}

func TestService_UpdateProfile_EmptyImageClears(t *testing.T) {
	store := &mockStore{
		updateUserProfileFn: func(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
			if !update.SetImage || update.Image != nil {
				t.Errorf("update = %+v, want image cleared", update)
			}
			return &model.User{ID: id}, nil
		},
	}
	if _, err := newTestService(store).UpdateProfile(context.Background(), "u1", UpdateProfileInput{Image: strPtr("")}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
}

func TestService_UpdateProfile_UserNotFound(t *testing.T) {
	store := &mockStore{
		updateUserNameFn: func(ctx context.Context, id string, name *string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	_, err := newTestService(store).UpdateProfile(context.Background(), "gone", UpdateProfileInput{Name: strPtr("A")})
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestService_UpdateProfile_NameAndImageInSingleWrite(t *testing.T) {
	calls := 0
	var got model.ProfileUpdate
	store := &mockStore{
		updateUserProfileFn: func(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
			calls++
			got = update
			return &model.User{ID: id, Name: update.Name, Image: update.Image}, nil
		},
	}

	_, err := newTestService(store).UpdateProfile(context.Background(), "u1", UpdateProfileInput{
		Name:  strPtr("Alice"),
		Image: strPtr("https://lh3.googleusercontent.com/a/photo.jpg"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("store calls = %d, want 1", calls)
	}
	if !got.SetName || model.StringValue(got.Name) != "Alice" {
		t.Errorf("name update = %+v", got)
	}
	if !got.SetImage || model.StringValue(got.Image) != "https://lh3.googleusercontent.com/a/photo.jpg" {
		t.Errorf("image update = %+v", got)
	}
}

func TestService_UpdateProfile_StoreErrorLeavesNothingPartial(t *testing.T) {
	calls := 0
	store := &mockStore{
		updateUserProfileFn: func(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
			calls++
			return nil, errors.New("connection reset")
		},
	}

	_, err := newTestService(store).UpdateProfile(context.Background(), "u1", UpdateProfileInput{
		Name:  strPtr("Alice"),
		Image: strPtr("https://lh3.googleusercontent.com/a/photo.jpg"),
	})
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("error = %v", err)
	}
	if calls != 1 {
		t.Errorf("store calls = %d, want 1", calls)
	}
}
