package analyses

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medvision/medvision/internal/domain/patients"
	"github.com/medvision/medvision/internal/platform/auth"
	"github.com/medvision/medvision/internal/platform/inference"
	"github.com/medvision/medvision/internal/platform/storage"
	"github.com/medvision/medvision/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the workflow endpoints. Upload, confirm and
// prescribe are deliberately closed to admins: admins administer, they do
// not act in the clinical workflow.
func (h *Handler) RegisterRoutes(authed *echo.Group) {
	an := authed.Group("/analyses")
	an.POST("/upload", h.Upload, auth.RequireRole(auth.RoleDiagnostician))
	an.GET("/my_history", h.MyHistory, auth.RequireRole(auth.RoleDiagnostician, auth.RoleAdmin))
	an.GET("/:id", h.GetAnalysis, auth.RequireRole(auth.RoleDiagnostician, auth.RoleAdmin, auth.RoleClinician))
	an.POST("/:id/confirm", h.Confirm, auth.RequireRole(auth.RoleDiagnostician))

	pt := authed.Group("/patients")
	pt.GET("/:mrn/history", h.PatientHistory, auth.RequireRole(auth.RoleClinician, auth.RoleAdmin))
	pt.POST("/analyses/:id/prescribe", h.Prescribe, auth.RequireRole(auth.RoleClinician))

	admin := authed.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/analyses/all", h.ListAll)
	admin.GET("/model/feedback_metrics", h.Metrics)
}

func analysisID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid analysis id")
	}
	return id, nil
}

func (h *Handler) Upload(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	if ident == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	mrn := c.FormValue("patient_mrn")
	if mrn == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_mrn is required")
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	a, err := h.svc.Upload(c.Request().Context(), mrn, ident.ID, fileHeader.Filename, src)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidFileType),
			errors.Is(err, storage.ErrFileTooLarge),
			errors.Is(err, storage.ErrMissingFileName):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrWrite):
			return echo.NewHTTPError(http.StatusInternalServerError, "image storage failed")
		case errors.Is(err, inference.ErrUnavailable):
			return echo.NewHTTPError(http.StatusInternalServerError, "inference unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) MyHistory(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	if ident == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	items, err := h.svc.OwnedHistory(c.Request().Context(), ident.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetAnalysis(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	if ident == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	id, err := analysisID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// Clinicians and admins may view any analysis; a diagnostician sees only
	// their own. Denied as forbidden, not hidden as not-found.
	if ident.Role == auth.RoleDiagnostician && a.DiagnosticianID != ident.ID {
		return echo.NewHTTPError(http.StatusForbidden, "not your analysis")
	}
	return c.JSON(http.StatusOK, a)
}

type confirmRequest struct {
	Conclusion string `json:"conclusion" form:"conclusion"`
	IsCorrect  bool   `json:"is_correct" form:"is_correct"`
}

func (h *Handler) Confirm(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	if ident == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	id, err := analysisID(c)
	if err != nil {
		return err
	}
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Confirm(c.Request().Context(), id, ident.ID, req.Conclusion, req.IsCorrect)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
		case errors.Is(err, ErrNotOwner):
			return echo.NewHTTPError(http.StatusForbidden, "only the owning diagnostician may confirm")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

type prescribeRequest struct {
	TreatmentPlan string `json:"treatment_plan" form:"treatment_plan"`
}

func (h *Handler) Prescribe(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	if ident == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	id, err := analysisID(c)
	if err != nil {
		return err
	}
	var req prescribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Prescribe(c.Request().Context(), id, ident.ID, req.TreatmentPlan)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	hist, err := h.svc.History(c.Request().Context(), c.Param("mrn"))
	if err != nil {
		if errors.Is(err, patients.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, hist)
}

func (h *Handler) ListAll(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAll(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Metrics(c echo.Context) error {
	m, err := h.svc.FeedbackMetrics(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}
