package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/talentflow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/talentflow-backend/internal/models"
	"github.com/ignatzorin/talentflow-backend/internal/service"
	"github.com/ignatzorin/talentflow-backend/internal/storage"
)

// MilestoneHandler обслуживает вехи и сдачу результатов работ.
type MilestoneHandler struct {
	svc         *service.MilestoneService
	engagements *service.EngagementService
	storage     *storage.DeliverableStorage
}

// NewMilestoneHandler создаёт новый хэндлер.
func NewMilestoneHandler(s *service.MilestoneService, engagements *service.EngagementService, st *storage.DeliverableStorage) *MilestoneHandler {
	return &MilestoneHandler{svc: s, engagements: engagements, storage: st}
}

// Create обрабатывает POST /engagements/:id/milestones.
// Пустой список milestones означает автоматическое планирование по бюджету
// и срокам проекта.
func (h *MilestoneHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	engagementID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	var req struct {
		Milestones []service.MilestoneInput `json:"milestones"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "некорректное тело запроса: "+err.Error())
		return
	}

	e, err := h.engagements.Get(c.Request.Context(), engagementID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	if !e.IsOwnedBy(userID) && role != models.RoleAdmin {
		common.RespondError(c, http.StatusForbidden, "вехи создаёт владелец проекта")
		return
	}

	milestones, err := h.svc.CreateForEngagement(c.Request.Context(), e, req.Milestones)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, milestones)
}

// List обрабатывает GET /engagements/:id/milestones.
func (h *MilestoneHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	engagementID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор проекта")
		return
	}

	milestones, err := h.svc.List(c.Request.Context(), engagementID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestones)
}

// Start обрабатывает POST /milestones/:id/start.
func (h *MilestoneHandler) Start(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор вехи")
		return
	}

	m, err := h.svc.Start(c.Request.Context(), milestoneID, userID)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Submit обрабатывает POST /milestones/:id/submit (multipart/form-data).
// Файлы результатов передаются в поле files.
func (h *MilestoneHandler) Submit(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор вехи")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		common.RespondBadRequest(c, "ожидается multipart/form-data с файлами результатов")
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		common.RespondBadRequest(c, "нужно приложить хотя бы один файл")
		return
	}

	deliverables := make([]models.Deliverable, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			common.RespondBadRequest(c, "не удалось прочитать файл "+fh.Filename)
			return
		}

		relPath, _, err := h.storage.Save(c.Request.Context(), milestoneID, fh.Filename, f)
		f.Close()
		if err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}

		deliverables = append(deliverables, models.Deliverable{
			Name:    fh.Filename,
			FileURL: relPath,
		})
	}

	m, err := h.svc.Submit(c.Request.Context(), milestoneID, userID, deliverables)
	if err != nil {
		// Переход не прошёл: подчищаем уже сохранённые файлы.
		for _, d := range deliverables {
			_ = h.storage.Delete(c.Request.Context(), d.FileURL)
		}
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Approve обрабатывает POST /milestones/:id/approve.
func (h *MilestoneHandler) Approve(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор вехи")
		return
	}

	m, err := h.svc.Approve(c.Request.Context(), milestoneID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Reject обрабатывает POST /milestones/:id/reject.
func (h *MilestoneHandler) Reject(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор вехи")
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "поле reason обязательно")
		return
	}

	m, err := h.svc.Reject(c.Request.Context(), milestoneID, userID, role, req.Reason)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Release обрабатывает POST /milestones/:id/release — досрочная выплата,
// не дожидаясь таймера автовыплаты.
func (h *MilestoneHandler) Release(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	role, _ := common.CurrentUserRole(c)

	milestoneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.RespondBadRequest(c, "невалидный идентификатор вехи")
		return
	}

	payment, err := h.svc.Release(c.Request.Context(), milestoneID, userID, role)
	if err != nil {
		common.RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
