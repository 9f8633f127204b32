package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/paddock/internal/model"
	"github.com/hitoshi/paddock/internal/repository"
)

// memSignupStore は登録待ち、ユーザー、identityをメモリ上で扱う。
// CompleteSignupはロック下で登録待ちの削除から行い、DBのトランザクションと同じ結果になる。
type memSignupStore struct {
	mu         sync.Mutex
	pendings   map[string]*model.PendingSignup
	users      map[string]*model.User
	identities map[string]*model.Identity
}

func newMemSignupStore() *memSignupStore {
	return &memSignupStore{
		pendings:   make(map[string]*model.PendingSignup),
		users:      make(map[string]*model.User),
		identities: make(map[string]*model.Identity),
	}
}

func (s *memSignupStore) addPending(p *model.PendingSignup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendings[p.ID] = p
}

func (s *memSignupStore) Create(_ context.Context, p *model.PendingSignup) error {
	s.addPending(p)
	return nil
}

func (s *memSignupStore) FindByID(_ context.Context, id string) (*model.PendingSignup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pendings[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memSignupStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type memUserRepo struct{ *memSignupStore }

func (r memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id], nil
}

func (r memUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, nil
}

func (r memUserRepo) CompleteSignup(_ context.Context, pendingID string, user *model.User) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pendings[pendingID]
	if !ok || p.IsExpired(user.CreatedAt) {
		return nil, repository.ErrPendingSignupNotFound
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Username, user.Username) {
			return nil, repository.ErrUsernameTaken
		}
	}
	key := p.ProviderID + "/" + p.ProviderUserID
	if _, linked := r.identities[key]; linked {
		return nil, repository.ErrIdentityAlreadyLinked
	}

	delete(r.pendings, pendingID)
	r.users[user.ID] = user
	identity := &model.Identity{ProviderID: p.ProviderID, ProviderUserID: p.ProviderUserID, UserID: user.ID, CreatedAt: user.CreatedAt}
	r.identities[key] = identity
	return identity, nil
}

func (r memUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

type signupFixture struct {
	svc      *SignupService
	store    *memSignupStore
	sessions *mockSessionCreator
	metrics  *spyRecorder
}

func newSignupFixture(t *testing.T) *signupFixture {
	t.Helper()
	f := &signupFixture{
		store:    newMemSignupStore(),
		sessions: &mockSessionCreator{},
		metrics:  &spyRecorder{},
	}
	f.store.addPending(&model.PendingSignup{
		ID:             "pending-1",
		ProviderID:     "google",
		ProviderUserID: "g-123",
		ExpiresAt:      testNow.Add(time.Hour),
		CreatedAt:      testNow,
	})
	f.svc = NewSignupService(memUserRepo{f.store}, f.store, f.sessions, f.metrics, SignupConfig{
		Now: func() time.Time { return testNow.Add(5 * time.Minute) },
	})
	return f
}

func TestLookupPending(t *testing.T) {
	f := newSignupFixture(t)
	f.store.addPending(&model.PendingSignup{ID: "expired", ProviderID: "google", ProviderUserID: "g-9", ExpiresAt: testNow})

	p, err := f.svc.LookupPending(context.Background(), "pending-1")
	if err != nil {
		t.Fatalf("LookupPending returned error: %v", err)
	}
	if p.ProviderUserID != "g-123" {
		t.Errorf("ProviderUserID = %q, want g-123", p.ProviderUserID)
	}

	for _, key := range []string{"", "unknown", "expired"} {
		if _, err := f.svc.LookupPending(context.Background(), key); !errors.Is(err, ErrPendingSignupNotFound) {
			t.Errorf("LookupPending(%q) error = %v, want ErrPendingSignupNotFound", key, err)
		}
	}
}

// シナリオC: 有効な登録待ちでユーザー登録が完了する
func TestCompleteSignup_Success(t *testing.T) {
	f := newSignupFixture(t)

	result, err := f.svc.CompleteSignup(context.Background(), SignupInput{NewUserKey: "pending-1", Username: "  racer1 "})
	if err != nil {
		t.Fatalf("CompleteSignup returned error: %v", err)
	}

	if result.User.Username != "racer1" {
		t.Errorf("Username = %q, want racer1", result.User.Username)
	}
	if result.User.ID == "" || result.User.Admin || result.User.Staff {
		t.Errorf("unexpected user: %+v", result.User)
	}
	if result.Session == nil || result.Session.UserID != result.User.ID {
		t.Fatalf("Session = %+v, want session for new user", result.Session)
	}

	identity := f.store.identities["google/g-123"]
	if identity == nil || identity.UserID != result.User.ID {
		t.Fatalf("identity = %+v, want link to new user", identity)
	}
	if _, ok := f.store.pendings["pending-1"]; ok {
		t.Error("pending signup should be consumed")
	}
	if f.metrics.signupsCompleted != 1 {
		t.Errorf("signupsCompleted = %d, want 1", f.metrics.signupsCompleted)
	}
}

// シナリオB: 短すぎるユーザー名はフィールドエラーになる
func TestCompleteSignup_UsernameTooShort(t *testing.T) {
	f := newSignupFixture(t)

	_, err := f.svc.CompleteSignup(context.Background(), SignupInput{NewUserKey: "pending-1", Username: "ab"})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Field != "username" {
		t.Errorf("Field = %q, want username", vErr.Field)
	}
	if len(f.store.users) != 0 {
		t.Error("no user should be created")
	}
	if _, ok := f.store.pendings["pending-1"]; !ok {
		t.Error("pending signup should remain")
	}
}

// シナリオD: 失効した登録待ちは見つからない扱いになる
func TestCompleteSignup_ExpiredPending(t *testing.T) {
	f := newSignupFixture(t)
	f.store.addPending(&model.PendingSignup{ID: "expired", ProviderID: "google", ProviderUserID: "g-9", ExpiresAt: testNow})

	_, err := f.svc.CompleteSignup(context.Background(), SignupInput{NewUserKey: "expired", Username: "racer1"})
	if !errors.Is(err, ErrPendingSignupNotFound) {
		t.Fatalf("expected ErrPendingSignupNotFound, got %v", err)
	}
	if len(f.store.users) != 0 {
		t.Error("no user should be created")
	}
}

func TestCompleteSignup_UsernameTaken_CaseInsensitive(t *testing.T) {
	f := newSignupFixture(t)
	f.store.users["existing"] = &model.User{ID: "existing", Username: "Racer1"}

	_, err := f.svc.CompleteSignup(context.Background(), SignupInput{NewUserKey: "pending-1", Username: "racer1"})

	var vErr *ValidationError
	if !errors.As(err, &vErr) || !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected username-taken ValidationError, got %v", err)
	}
	if _, ok := f.store.pendings["pending-1"]; !ok {
		t.Error("pending signup should remain for retry")
	}
}

func TestCompleteSignup_RepositoryErrors(t *testing.T) {
	tests := []struct {
		name    string
		repoErr error
		check   func(t *testing.T, err error)
	}{
		{"username taken at insert", repository.ErrUsernameTaken, func(t *testing.T, err error) {
			if !errors.Is(err, ErrUsernameTaken) {
				t.Errorf("expected ErrUsernameTaken, got %v", err)
			}
		}},
		{"pending consumed concurrently", repository.ErrPendingSignupNotFound, func(t *testing.T, err error) {
			if !errors.Is(err, ErrPendingSignupNotFound) {
				t.Errorf("expected ErrPendingSignupNotFound, got %v", err)
			}
		}},
		{"identity already linked", repository.ErrIdentityAlreadyLinked, func(t *testing.T, err error) {
			if !errors.Is(err, ErrIdentityAlreadyLinked) {
				t.Errorf("expected ErrIdentityAlreadyLinked, got %v", err)
			}
		}},
		{"storage failure", errors.New("connection reset"), func(t *testing.T, err error) {
			var vErr *ValidationError
			if err == nil || errors.As(err, &vErr) || errors.Is(err, ErrPendingSignupNotFound) {
				t.Errorf("expected generic storage error, got %v", err)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pendings := &mockPendingSignupRepo{
				findByIDFn: func(context.Context, string) (*model.PendingSignup, error) {
					return &model.PendingSignup{ID: "p", ExpiresAt: testNow.Add(time.Hour)}, nil
				},
			}
			users := &mockUserRepo{
				completeSignupFn: func(context.Context, string, *model.User) (*model.Identity, error) {
					return nil, tt.repoErr
				},
			}
			sessionIssued := false
			sessions := &mockSessionCreator{createSessionFn: func(context.Context, string) (*model.Session, error) {
				sessionIssued = true
				return &model.Session{}, nil
			}}
			svc := NewSignupService(users, pendings, sessions, nil, SignupConfig{Now: func() time.Time { return testNow }})

			_, err := svc.CompleteSignup(context.Background(), SignupInput{NewUserKey: "p", Username: "racer1"})
			tt.check(t, err)
			if sessionIssued {
				t.Error("no session should be issued when signup fails")
			}
		})
	}
}

// 同じ登録待ちに対する同時登録は高々1件だけ成功する
func TestCompleteSignup_ConcurrentSubmissions_OneWins(t *testing.T) {
	f := newSignupFixture(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "racer1"
			if i%2 == 1 {
				name = "driver" + string(rune('a'+i))
			}
			_, errs[i] = f.svc.CompleteSignup(context.Background(), SignupInput{NewUserKey: "pending-1", Username: name})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrPendingSignupNotFound), errors.Is(err, ErrUsernameTaken):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded)
	}
	if len(f.store.users) != 1 || len(f.store.identities) != 1 {
		t.Errorf("users = %d, identities = %d, want 1 each", len(f.store.users), len(f.store.identities))
	}
}
