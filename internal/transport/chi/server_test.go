package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/cmskit/internal/db/sqlite"
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	domcol "github.com/kailas-cloud/cmskit/internal/domain/collection"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
	entityrepo "github.com/kailas-cloud/cmskit/internal/repository/entity"
	"github.com/kailas-cloud/cmskit/internal/repository/schema"
	"github.com/kailas-cloud/cmskit/internal/repository/storage"
	collectionuc "github.com/kailas-cloud/cmskit/internal/usecase/collection"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
	healthuc "github.com/kailas-cloud/cmskit/internal/usecase/health"
)

// --- Fixtures ---

func ptr[T any](v T) *T { return &v }

func testCollections(t *testing.T) []domcol.Collection {
	t.Helper()
	products, err := domcol.New("products", "Products", &domcol.Schema{
		Name: "Product",
		Properties: property.NewProperties(
			property.Named("name", &property.Property{
				DataType:   property.String,
				Validation: &property.Validation{Required: true},
			}),
			property.Named("price", &property.Property{
				DataType:   property.Number,
				Validation: &property.Validation{Min: ptr(0.0)},
			}),
			property.Named("image", &property.Property{
				DataType: property.String,
				Config:   &property.Config{StorageMeta: &property.StorageMeta{StoragePath: "images"}},
			}),
		),
		Callbacks: domcol.Callbacks{
			OnPreSave: func(_ context.Context, in domcol.SaveHookInput) (map[string]any, error) {
				if in.Values["name"] == "forbidden" {
					return nil, errors.New("name is reserved")
				}
				return nil, nil
			},
			OnDelete: func(_ context.Context, in domcol.DeleteHookInput) error {
				if in.EntityID == "sticky" {
					return errors.New("index cleanup failed")
				}
				return nil
			},
		},
	})
	require.NoError(t, err)

	archive, err := domcol.New("archive", "Archive", &domcol.Schema{
		Name: "Record",
		Properties: property.NewProperties(
			property.Named("title", &property.Property{DataType: property.String}),
		),
	}, domcol.WithPermissions(auth.Permissions{Create: true, Edit: true}))
	require.NoError(t, err)

	return []domcol.Collection{products, archive}
}

type testEnv struct {
	handler     http.Handler
	collections *collectionuc.Service
}

func newTestEnv(t *testing.T, middlewares ...func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	src, err := schema.NewSource("", nil, testCollections(t)...)
	require.NoError(t, err)

	store, err := sqlite.NewStore(context.Background(), sqlite.Config{})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	files, err := storage.NewLocal(t.TempDir(), "/files", 0)
	require.NoError(t, err)

	entities := entityuc.New(entityrepo.New(store, "test:"))
	collections := collectionuc.New(src, entities)
	srv := NewServer(src, collections, entities, healthuc.New(store, files)).
		WithFiles(files, 1<<20).
		WithSavedFlash(time.Millisecond)

	return &testEnv{handler: srv.Handler(middlewares...), collections: collections}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) create(t *testing.T, id string, values map[string]any) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/entities?path=products", SaveEntityRequest{ID: id, Values: values})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decode[map[string]any](t, rr)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, map[string]any{"database": "ok", "storage": "ok"}, resp["checks"])
}

func TestListCollections(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/v1/collections", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[struct {
		Items []collectionuc.Summary `json:"items"`
	}](t, rr)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "products", resp.Items[0].Path)
	assert.Equal(t, auth.Permissions{Create: true, Edit: true}, resp.Items[1].Permissions)
}

func TestCreateAndGetEntity(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp", "price": 3})

	rr := env.do(t, http.MethodGet, "/api/v1/entities/p1?path=products", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[EntityResponse](t, rr)
	assert.Equal(t, "products", got.Path)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "Lamp", got.Values["name"])
	assert.InDelta(t, 3.0, got.Values["price"], 0)
}

func TestCreateEntity_GeneratesID(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/v1/entities?path=products",
		SaveEntityRequest{Values: map[string]any{"name": "Lamp"}})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	got := decode[EntityResponse](t, rr)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, entityuc.OutcomeSuccess, got.Outcome)
}

func TestCreateEntity_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp"})

	tests := []struct {
		name     string
		target   string
		body     SaveEntityRequest
		wantCode int
		wantErr  ErrorCode
	}{
		{"missing required", "/api/v1/entities?path=products",
			SaveEntityRequest{Values: map[string]any{"price": 1}}, http.StatusUnprocessableEntity, CodeValidationFailed},
		{"pre hook", "/api/v1/entities?path=products",
			SaveEntityRequest{Values: map[string]any{"name": "forbidden"}}, http.StatusConflict, CodeHookFailed},
		{"duplicate id", "/api/v1/entities?path=products",
			SaveEntityRequest{ID: "p1", Values: map[string]any{"name": "Again"}}, http.StatusConflict, CodeAlreadyExists},
		{"bad status", "/api/v1/entities?path=products",
			SaveEntityRequest{Status: "existing", Values: map[string]any{"name": "X"}}, http.StatusBadRequest, CodeBadRequest},
		{"unknown collection", "/api/v1/entities?path=orders",
			SaveEntityRequest{Values: map[string]any{"name": "X"}}, http.StatusNotFound, CodeNotFound},
		{"missing path", "/api/v1/entities",
			SaveEntityRequest{Values: map[string]any{"name": "X"}}, http.StatusBadRequest, CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rr).Code)
		})
	}
}

func TestCreateEntity_ValidationFields(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/v1/entities?path=products",
		SaveEntityRequest{Values: map[string]any{"price": -1}})

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	require.Len(t, resp.Fields, 2)
	assert.Equal(t, "name", resp.Fields[0].Field)
	assert.EqualValues(t, "required", resp.Fields[0].Code)
	assert.Equal(t, "price", resp.Fields[1].Field)
	assert.EqualValues(t, "min", resp.Fields[1].Code)
}

func TestCreateEntity_PreHookMessage(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/v1/entities?path=products",
		SaveEntityRequest{Values: map[string]any{"name": "forbidden"}})

	require.Equal(t, http.StatusConflict, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	assert.Equal(t, "name is reserved", resp.Message)
	assert.EqualValues(t, "pre_save", resp.Stage)
}

func TestSaveEntity(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp", "price": 3})

	rr := env.do(t, http.MethodPut, "/api/v1/entities/p1?path=products",
		SaveEntityRequest{Values: map[string]any{"name": "Desk lamp", "price": 4}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Desk lamp", decode[EntityResponse](t, rr).Values["name"])

	rr = env.do(t, http.MethodPut, "/api/v1/entities/nope?path=products",
		SaveEntityRequest{Values: map[string]any{"name": "X"}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPatchField(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp", "price": 3})

	rr := env.do(t, http.MethodPatch, "/api/v1/entities/p1/fields/price?path=products", PatchFieldRequest{Value: 5})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[FieldResponse](t, rr)
	assert.Equal(t, "price", resp.Field)
	assert.False(t, resp.Dirty)
	assert.Equal(t, entityuc.OutcomeSuccess, resp.Outcome)

	got := decode[EntityResponse](t, env.do(t, http.MethodGet, "/api/v1/entities/p1?path=products", nil))
	assert.InDelta(t, 5.0, got.Values["price"], 0)
	assert.Equal(t, "Lamp", got.Values["name"])
}

func TestPatchField_Invalid(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp", "price": 3})

	rr := env.do(t, http.MethodPatch, "/api/v1/entities/p1/fields/price?path=products", PatchFieldRequest{Value: -2})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	require.Len(t, resp.Fields, 1)
	assert.Equal(t, "price", resp.Fields[0].Field)

	// Значение в хранилище не изменилось.
	got := decode[EntityResponse](t, env.do(t, http.MethodGet, "/api/v1/entities/p1?path=products", nil))
	assert.InDelta(t, 3.0, got.Values["price"], 0)
}

func TestPatchField_UnchangedValueIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp"})

	rr := env.do(t, http.MethodPatch, "/api/v1/entities/p1/fields/name?path=products", PatchFieldRequest{Value: "Lamp"})
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[FieldResponse](t, rr)
	assert.Empty(t, resp.Outcome)
	assert.False(t, resp.Dirty)
}

func TestPatchField_UnknownField(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp"})

	rr := env.do(t, http.MethodPatch, "/api/v1/entities/p1/fields/color?path=products", PatchFieldRequest{Value: "red"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteEntity(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp"})

	rr := env.do(t, http.MethodDelete, "/api/v1/entities/p1?path=products", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/entities/p1?path=products", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteEntity_PostHookWarning(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "sticky", map[string]any{"name": "Lamp"})

	rr := env.do(t, http.MethodDelete, "/api/v1/entities/sticky?path=products", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[EntityResponse](t, rr)
	assert.Equal(t, entityuc.OutcomePostHookError, resp.Outcome)
	require.NotNil(t, resp.Warning)
	assert.Equal(t, "index cleanup failed", resp.Warning.Message)

	rr = env.do(t, http.MethodGet, "/api/v1/entities/sticky?path=products", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteEntity_CollectionForbidsDelete(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/v1/entities?path=archive",
		SaveEntityRequest{ID: "r1", Values: map[string]any{"title": "Old"}})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodDelete, "/api/v1/entities/r1?path=archive", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, CodeForbidden, decode[ErrorResponse](t, rr).Code)
}

func TestBulkDelete(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "a", map[string]any{"name": "A"})
	env.create(t, "b", map[string]any{"name": "B"})

	rr := env.do(t, http.MethodPost, "/api/v1/entities/bulk-delete?path=products",
		BulkDeleteRequest{IDs: []string{"a", "b", "missing"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode[BulkDeleteResponse](t, rr)
	assert.EqualValues(t, "partial", resp.Outcome)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, "missing", resp.Items[2].ID)
	require.NotNil(t, resp.Items[2].Error)
	assert.Equal(t, CodeNotFound, resp.Items[2].Error.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/entities/bulk-delete?path=products", BulkDeleteRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListEntities_Query(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "a", map[string]any{"name": "A", "price": 30})
	env.create(t, "b", map[string]any{"name": "B", "price": 10})
	env.create(t, "c", map[string]any{"name": "C", "price": 10})

	rr := env.do(t, http.MethodGet, "/api/v1/entities?path=products&filter.price=10&order_by=name&order=desc", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[struct {
		Items []EntityResponse `json:"items"`
	}](t, rr)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "c", resp.Items[0].ID)
	assert.Equal(t, "b", resp.Items[1].ID)

	rr = env.do(t, http.MethodGet, "/api/v1/entities?path=products&limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/v1/entities?path=products&order=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestViews(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp", "price": 3})

	rr := env.do(t, http.MethodGet, "/api/v1/schema?path=products&id=p1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Product", decode[map[string]any](t, rr)["name"])

	rr = env.do(t, http.MethodGet, "/api/v1/form?path=products&id=p1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	form := decode[collectionuc.Form](t, rr)
	require.Len(t, form.Fields, 3)
	assert.Equal(t, "Lamp", form.Fields[0].Value)

	rr = env.do(t, http.MethodGet, "/api/v1/table?path=products&size=xs", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	tbl := decode[collectionuc.Table](t, rr)
	assert.EqualValues(t, "xs", tbl.Size)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "p1", tbl.Rows[0].ID)

	rr = env.do(t, http.MethodGet, "/api/v1/table?path=products&size=huge", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/form", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp", "price": 3})

	rr := env.do(t, http.MethodGet, "/api/v1/export?path=products", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="products.csv"`)
	assert.Equal(t, "\"id\",\"name\",\"price\",\"image\"\r\n\"p1\",\"Lamp\",\"3\",\r\n", rr.Body.String())
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(uploadFormField, name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload_SavesAndServesFile(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "p1", map[string]any{"name": "Lamp"})

	body, contentType := multipartBody(t, map[string]string{"lamp.txt": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads?path=products&field=image&id=p1&save=true", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[UploadResponse](t, rr)
	assert.Equal(t, "images/lamp.txt", resp.Value)
	assert.Equal(t, entityuc.OutcomeSuccess, resp.Outcome)
	require.Len(t, resp.Items, 1)
	assert.Empty(t, resp.Items[0].Err)

	got := decode[EntityResponse](t, env.do(t, http.MethodGet, "/api/v1/entities/p1?path=products", nil))
	assert.Equal(t, "images/lamp.txt", got.Values["image"])

	rr = env.do(t, http.MethodGet, "/files/images/lamp.txt", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", rr.Body.String())

	rr = env.do(t, http.MethodGet, "/files/images/missing.txt", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpload_Errors(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartBody(t, map[string]string{"a.txt": "a"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads?path=products&field=name", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, CodeConfiguration, decode[ErrorResponse](t, rr).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/uploads?path=products&field=image",
		strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	big, contentType := multipartBody(t, map[string]string{"big.bin": strings.Repeat("x", 2<<20)})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/uploads?path=products&field=image", big)
	req.Header.Set("Content-Type", contentType)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestRolePermissions(t *testing.T) {
	keys := map[string]auth.Principal{
		"viewer-key": {ID: "v", Roles: []string{"viewer"}},
		"editor-key": {ID: "e", Roles: []string{"editor"}},
	}
	env := newTestEnv(t, BearerAuthMiddleware(keys))
	env.collections.WithAuthorizer(auth.NewRoleAuthorizer(map[string]map[string]auth.Permissions{
		"viewer": {auth.Wildcard: {}},
		"editor": {auth.Wildcard: {Create: true, Edit: true}},
	}))

	send := func(key string) int {
		data, _ := json.Marshal(SaveEntityRequest{ID: "p1", Values: map[string]any{"name": "Lamp"}})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/entities?path=products", bytes.NewReader(data))
		req.Header.Set("Authorization", "Bearer "+key)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusForbidden, send("viewer-key"))
	assert.Equal(t, http.StatusCreated, send("editor-key"))
}
