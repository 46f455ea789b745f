package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"stonebeam/db/memory"
	"stonebeam/internal/auth"
	"stonebeam/internal/handlers"
	"stonebeam/internal/handlers/testutils"
	"stonebeam/internal/quotation"
	"stonebeam/models"
)

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu        sync.Mutex
	submitted []string
	decided   []string
}

func (p *recordingPublisher) PublishQuotationSubmitted(q *models.Quotation, _ *models.Project) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, q.ID)
	return nil
}

func (p *recordingPublisher) PublishQuotationDecided(q *models.Quotation, _ *models.Project) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decided = append(p.decided, q.ID+":"+string(q.Status))
	return nil
}

type testEnv struct {
	handler   *handlers.Handler
	router    http.Handler
	issuer    *auth.Issuer
	publisher *recordingPublisher
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStorage()
	issuer := auth.NewIssuer("test-secret", time.Hour)
	publisher := &recordingPublisher{}
	h := handlers.NewHandler(store, quotation.NewEngine(store), issuer, publisher, quietLogger())
	return &testEnv{handler: h, router: h.Routes(), issuer: issuer, publisher: publisher}
}

func (e *testEnv) token(t *testing.T, username string, role models.Role) string {
	t.Helper()
	token, err := e.issuer.Issue(username, role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) createCementProject(t *testing.T, requesterToken string) models.Project {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/projects", requesterToken,
		`{"deliveryAddress":"12 Quarry Rd","items":[{"material":"Cement","quantity":10,"unit":"bag"}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[models.Project](t, w)
}

func TestPingHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/ping", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"asha","password":"hunter22","role":"requester"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotContains(t, w.Body.String(), "hunter22")

	w = env.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"asha","password":"other123","role":"dealer"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"bobby","password":"hunter22","role":"admin"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "role", decodeBody[handlers.ErrorResponse](t, w).Field)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"asha","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"nobody","password":"hunter22"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"asha","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[handlers.TokenResponse](t, w)
	require.Equal(t, models.RoleRequester, resp.Role)

	// выданный токен открывает защищённые маршруты
	w = env.do(t, http.MethodGet, "/api/projects/my", resp.Token, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/projects", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateProjectHandler(t *testing.T) {
	env := newTestEnv(t)
	requester := env.token(t, "asha", models.RoleRequester)
	dealer := env.token(t, "dealer1", models.RoleDealer)

	project := env.createCementProject(t, requester)
	require.Equal(t, "asha", project.RequesterName)
	require.Equal(t, models.ProjectOpen, project.Status)
	require.Equal(t, []models.LineItemRequest{{Material: "Cement", Quantity: 10, Unit: "bag"}}, project.Items)

	w := env.do(t, http.MethodPost, "/api/projects", dealer,
		`{"deliveryAddress":"x","items":[{"material":"Sand","quantity":1,"unit":"t"}]}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/projects", requester,
		`{"deliveryAddress":"x","items":[{"material":"Sand","quantity":0,"unit":"t"}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "items[0].quantity", decodeBody[handlers.ErrorResponse](t, w).Field)

	w = env.do(t, http.MethodPost, "/api/projects", requester, `{"deliveryAddress":"x","items":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/projects", requester, `{not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuotationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	requester := env.token(t, "asha", models.RoleRequester)
	dealer1 := env.token(t, "dealer1", models.RoleDealer)
	dealer2 := env.token(t, "dealer2", models.RoleDealer)

	project := env.createCementProject(t, requester)
	quotationsPath := "/api/projects/" + project.ID + "/quotations"

	// первый поставщик
	w := env.do(t, http.MethodPost, quotationsPath, dealer1, `{"rates":[300],"deliveries":[50]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	qa := decodeBody[models.Quotation](t, w)
	require.Equal(t, models.QuotationPending, qa.Status)
	require.Len(t, qa.Items, 1)
	require.Equal(t, 3050.0, qa.Items[0].Amount)
	require.Equal(t, 3050.0, qa.Total)

	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID, requester, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[models.Project](t, w)
	require.Equal(t, models.ProjectQuoted, got.Status)
	require.Equal(t, 1, got.QuotesReceived)

	// второй поставщик
	w = env.do(t, http.MethodPost, quotationsPath, dealer2, `{"rates":[280],"deliveries":[40]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	qb := decodeBody[models.Quotation](t, w)
	require.Equal(t, 2840.0, qb.Total)

	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID, dealer2, "")
	got = decodeBody[models.Project](t, w)
	require.Equal(t, models.ProjectQuoted, got.Status)
	require.Equal(t, 2, got.QuotesReceived)

	// автор видит предложения, самое дешёвое первым
	w = env.do(t, http.MethodGet, quotationsPath, requester, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[[]models.Quotation](t, w)
	require.Len(t, list, 2)
	require.Equal(t, qb.ID, list[0].ID)
	require.Equal(t, qa.ID, list[1].ID)

	// принимаем предложение A
	w = env.do(t, http.MethodPut, "/api/quotations/"+qa.ID+"/decision", requester, `{"decision":"accepted"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, models.QuotationAccepted, decodeBody[models.Quotation](t, w).Status)

	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID, requester, "")
	require.Equal(t, models.ProjectFulfilled, decodeBody[models.Project](t, w).Status)

	w = env.do(t, http.MethodGet, "/api/quotations/"+qb.ID, dealer2, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, models.QuotationPending, decodeBody[models.Quotation](t, w).Status)

	// повторное решение
	w = env.do(t, http.MethodPut, "/api/quotations/"+qa.ID+"/decision", requester, `{"decision":"rejected"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, quotation.ErrInvalidState.Error(), decodeBody[handlers.ErrorResponse](t, w).Kind)

	// проект выполнен
	w = env.do(t, http.MethodPost, quotationsPath, dealer2, `{"rates":[250]}`)
	require.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, []string{qa.ID, qb.ID}, env.publisher.submitted)
	require.Equal(t, []string{qa.ID + ":accepted"}, env.publisher.decided)
}

func TestSubmitQuotationValidation(t *testing.T) {
	env := newTestEnv(t)
	requester := env.token(t, "asha", models.RoleRequester)
	dealer := env.token(t, "dealer1", models.RoleDealer)
	project := env.createCementProject(t, requester)
	path := "/api/projects/" + project.ID + "/quotations"

	tests := []struct {
		name   string
		body   string
		status int
		kind   error
		field  string
	}{
		{"zero rate", `{"rates":[0]}`, http.StatusBadRequest, quotation.ErrValidation, "rates[0]"},
		{"negative rate", `{"rates":[-1]}`, http.StatusBadRequest, quotation.ErrValidation, "rates[0]"},
		{"null rate", `{"rates":[null]}`, http.StatusBadRequest, quotation.ErrValidation, "rates[0]"},
		{"missing rates", `{"rates":[]}`, http.StatusBadRequest, quotation.ErrValidation, "rates"},
		{"too many rates", `{"rates":[1,2]}`, http.StatusBadRequest, quotation.ErrValidation, "rates"},
		{"negative delivery", `{"rates":[300],"deliveries":[-5]}`, http.StatusBadRequest, quotation.ErrInvalidInput, "deliveries[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, path, dealer, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decodeBody[handlers.ErrorResponse](t, w)
			require.Equal(t, tt.kind.Error(), resp.Kind)
			require.Equal(t, tt.field, resp.Field)
		})
	}

	w := env.do(t, http.MethodPost, "/api/projects/does-not-exist/quotations", dealer, `{"rates":[300]}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, path, requester, `{"rates":[300]}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID, requester, "")
	got := decodeBody[models.Project](t, w)
	require.Equal(t, models.ProjectOpen, got.Status)
	require.Zero(t, got.QuotesReceived)
	require.Empty(t, env.publisher.submitted)
}

func TestSubmitQuotationOverflowIsRejected(t *testing.T) {
	env := newTestEnv(t)
	requester := env.token(t, "asha", models.RoleRequester)
	dealer := env.token(t, "dealer1", models.RoleDealer)

	w := env.do(t, http.MethodPost, "/api/projects", requester,
		`{"deliveryAddress":"Dam site","items":[{"material":"Aggregate","quantity":1e10,"unit":"t"}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	project := decodeBody[models.Project](t, w)

	w = env.do(t, http.MethodPost, "/api/projects/"+project.ID+"/quotations", dealer, `{"rates":[1e300]}`)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	resp := decodeBody[handlers.ErrorResponse](t, w)
	require.Equal(t, quotation.ErrInvalidInput.Error(), resp.Kind)
	require.Equal(t, "items[0].amount", resp.Field)

	// ничего не записано, список предложений читается
	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID, requester, "")
	got := decodeBody[models.Project](t, w)
	require.Equal(t, models.ProjectOpen, got.Status)
	require.Zero(t, got.QuotesReceived)

	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID+"/quotations", requester, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Empty(t, decodeBody[[]models.Quotation](t, w))
	require.Empty(t, env.publisher.submitted)
}

func TestDecideQuotationAccess(t *testing.T) {
	env := newTestEnv(t)
	owner := env.token(t, "asha", models.RoleRequester)
	stranger := env.token(t, "omar", models.RoleRequester)
	dealer := env.token(t, "dealer1", models.RoleDealer)
	otherDealer := env.token(t, "dealer2", models.RoleDealer)

	project := env.createCementProject(t, owner)
	w := env.do(t, http.MethodPost, "/api/projects/"+project.ID+"/quotations", dealer, `{"rates":[300]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	q := decodeBody[models.Quotation](t, w)
	decisionPath := "/api/quotations/" + q.ID + "/decision"

	w = env.do(t, http.MethodPut, decisionPath, stranger, `{"decision":"accepted"}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, decisionPath, dealer, `{"decision":"accepted"}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, decisionPath, owner, `{"decision":"maybe"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "decision", decodeBody[handlers.ErrorResponse](t, w).Field)

	w = env.do(t, http.MethodPut, "/api/quotations/nope/decision", owner, `{"decision":"accepted"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/quotations/"+q.ID, otherDealer, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID+"/quotations", stranger, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, decisionPath, owner, `{"decision":"rejected"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/projects/"+project.ID, owner, "")
	require.Equal(t, models.ProjectQuoted, decodeBody[models.Project](t, w).Status)
}

func TestDashboardHandler(t *testing.T) {
	env := newTestEnv(t)
	requester := env.token(t, "asha", models.RoleRequester)
	dealer := env.token(t, "dealer1", models.RoleDealer)

	p1 := env.createCementProject(t, requester)
	env.createCementProject(t, requester)

	w := env.do(t, http.MethodPost, "/api/projects/"+p1.ID+"/quotations", dealer, `{"rates":[300],"deliveries":[50]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	q := decodeBody[models.Quotation](t, w)
	w = env.do(t, http.MethodPut, "/api/quotations/"+q.ID+"/decision", requester, `{"decision":"accepted"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/dashboard", requester, "")
	require.Equal(t, http.StatusOK, w.Code)
	rd := decodeBody[handlers.DashboardResponse](t, w)
	require.Nil(t, rd.Quotations)
	require.Equal(t, quotation.ProjectSummary{Total: 2, Open: 1, Fulfilled: 1, QuotesReceived: 1}, *rd.Projects)

	w = env.do(t, http.MethodGet, "/api/dashboard", dealer, "")
	require.Equal(t, http.StatusOK, w.Code)
	dd := decodeBody[handlers.DashboardResponse](t, w)
	require.Nil(t, dd.Projects)
	require.Equal(t, quotation.QuotationSummary{Total: 1, Accepted: 1, AcceptedValue: 3050, AcceptanceRate: 1}, *dd.Quotations)
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t)
	requester := env.token(t, "asha", models.RoleRequester)
	for i := 0; i < 7; i++ {
		env.createCementProject(t, requester)
	}

	w := env.do(t, http.MethodGet, "/api/projects", requester, "")
	require.Len(t, decodeBody[[]models.Project](t, w), 5)

	w = env.do(t, http.MethodGet, "/api/projects?limit=3&offset=5", requester, "")
	require.Len(t, decodeBody[[]models.Project](t, w), 2)

	w = env.do(t, http.MethodGet, "/api/projects?status=quoted", requester, "")
	require.Empty(t, decodeBody[[]models.Project](t, w))

	w = env.do(t, http.MethodGet, "/api/projects/my?limit=50", requester, "")
	require.Len(t, decodeBody[[]models.Project](t, w), 7)
}

// MockStorage реализует StorageInterface для проверки ошибок хранилища
type MockStorage struct {
	GetProjectsFunc func(ctx context.Context, statuses []models.ProjectStatus, limit, offset int) ([]models.Project, error)
	GetProjectFunc  func(ctx context.Context, id string) (*models.Project, error)
}

func (m *MockStorage) CreateUser(ctx context.Context, u *models.User) error { return nil }
func (m *MockStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return nil, quotation.ErrNotFound
}
func (m *MockStorage) GetProject(ctx context.Context, id string) (*models.Project, error) {
	if m.GetProjectFunc != nil {
		return m.GetProjectFunc(ctx, id)
	}
	return &models.Project{ID: id, RequesterName: "asha", Status: models.ProjectOpen}, nil
}
func (m *MockStorage) GetProjects(ctx context.Context, statuses []models.ProjectStatus, limit, offset int) ([]models.Project, error) {
	if m.GetProjectsFunc != nil {
		return m.GetProjectsFunc(ctx, statuses, limit, offset)
	}
	return []models.Project{{ID: "p-1", DeliveryAddress: "Sample Site"}}, nil
}
func (m *MockStorage) GetUserProjects(ctx context.Context, username string, limit, offset int) ([]models.Project, error) {
	return nil, nil
}
func (m *MockStorage) GetQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	return nil, quotation.ErrNotFound
}
func (m *MockStorage) GetQuotationsForProject(ctx context.Context, projectID string, limit, offset int) ([]models.Quotation, error) {
	return nil, nil
}
func (m *MockStorage) GetUserQuotations(ctx context.Context, username string, limit, offset int) ([]models.Quotation, error) {
	return nil, nil
}

func newMockHandler(store handlers.StorageInterface) *handlers.Handler {
	return handlers.NewHandler(store, nil, auth.NewIssuer("s", time.Hour), &recordingPublisher{}, quietLogger())
}

func TestGetProjectsHandler(t *testing.T) {
	var gotStatuses []models.ProjectStatus
	var gotLimit, gotOffset int
	mockStore := &MockStorage{
		GetProjectsFunc: func(ctx context.Context, statuses []models.ProjectStatus, limit, offset int) ([]models.Project, error) {
			gotStatuses, gotLimit, gotOffset = statuses, limit, offset
			return []models.Project{{ID: "p-1", DeliveryAddress: "Sample Site"}}, nil
		},
	}
	handler := newMockHandler(mockStore)

	req := httptest.NewRequest(http.MethodGet, "/api/projects?status=open&status=bogus&status=quoted&limit=500&offset=2", nil)
	w := httptest.NewRecorder()

	handler.GetProjectsHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "Sample Site")
	require.Equal(t, []models.ProjectStatus{models.ProjectOpen, models.ProjectQuoted}, gotStatuses)
	require.Equal(t, 5, gotLimit)
	require.Equal(t, 2, gotOffset)
}

func TestGetProjectsHandlerStorageFailure(t *testing.T) {
	mockStore := &MockStorage{
		GetProjectsFunc: func(ctx context.Context, statuses []models.ProjectStatus, limit, offset int) ([]models.Project, error) {
			return nil, errors.New("connection refused")
		},
	}
	handler := newMockHandler(mockStore)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	w := httptest.NewRecorder()

	handler.GetProjectsHandler(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "connection refused")
}

func TestGetProjectHandler(t *testing.T) {
	handler := newMockHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p-42", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"projectId": "p-42"})
	w := httptest.NewRecorder()

	handler.GetProjectHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "p-42")
}

func TestGetProjectHandlerNotFound(t *testing.T) {
	mockStore := &MockStorage{
		GetProjectFunc: func(ctx context.Context, id string) (*models.Project, error) {
			return nil, quotation.ErrNotFound
		},
	}
	handler := newMockHandler(mockStore)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/missing", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"projectId": "missing"})
	w := httptest.NewRecorder()

	handler.GetProjectHandler(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProjectQuotationsHandlerForbidden(t *testing.T) {
	handler := newMockHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p-1/quotations", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"projectId": "p-1"})
	req = testutils.WithUser(req, "omar", models.RoleRequester)
	w := httptest.NewRecorder()

	handler.GetProjectQuotationsHandler(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}
