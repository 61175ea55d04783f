package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ServerInterface has one method per operation in openapi.yaml.
type ServerInterface interface {
	// (POST /sessions)
	PostSessions(w http.ResponseWriter, r *http.Request)
	// (GET /sessions/{id})
	GetSessionsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (DELETE /sessions/{id})
	DeleteSessionsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /sessions/{id}/gestures)
	PostSessionsIdGestures(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /sessions/{id}/reset)
	PostSessionsIdReset(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (GET /sessions/{id}/preview)
	GetSessionsIdPreview(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /sessions/{id}/commit)
	PostSessionsIdCommit(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /jobs/crop-render)
	PostJobsCropRender(w http.ResponseWriter, r *http.Request)
	// (GET /jobs/{id})
	GetJobsId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (GET /images)
	GetImages(w http.ResponseWriter, r *http.Request)
	// (GET /images/{id})
	GetImagesId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (DELETE /images/{id})
	DeleteImagesId(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /images/cutouts)
	PostImagesCutouts(w http.ResponseWriter, r *http.Request)
}

// withID binds the {id} path parameter before calling fn.
func withID(fn func(http.ResponseWriter, *http.Request, openapi_types.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id openapi_types.UUID
		err := runtime.BindStyledParameterWithLocation("simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), &id)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid format for parameter id: %v", err))
			return
		}
		fn(w, r, id)
	}
}

// HandlerFromMux registers every operation of si on r and returns r.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	r.Post("/sessions", si.PostSessions)
	r.Get("/sessions/{id}", withID(si.GetSessionsId))
	r.Delete("/sessions/{id}", withID(si.DeleteSessionsId))
	r.Post("/sessions/{id}/gestures", withID(si.PostSessionsIdGestures))
	r.Post("/sessions/{id}/reset", withID(si.PostSessionsIdReset))
	r.Get("/sessions/{id}/preview", withID(si.GetSessionsIdPreview))
	r.Post("/sessions/{id}/commit", withID(si.PostSessionsIdCommit))

	r.Post("/jobs/crop-render", si.PostJobsCropRender)
	r.Get("/jobs/{id}", withID(si.GetJobsId))

	r.Get("/images", si.GetImages)
	r.Post("/images/cutouts", si.PostImagesCutouts)
	r.Get("/images/{id}", withID(si.GetImagesId))
	r.Delete("/images/{id}", withID(si.DeleteImagesId))

	return r
}
