package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api/dto"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/training"
)

type TrainingHandler struct {
	Base
	training *training.Service
}

func NewTrainingHandler(b Base, trainingService *training.Service) *TrainingHandler {
	return &TrainingHandler{Base: b, training: trainingService}
}

// ListCourses handles GET /api/v1/admin/courses
func (h *TrainingHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.training.ListCourses(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// CreateCourse handles POST /api/v1/admin/courses
func (h *TrainingHandler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req training.CourseInput
	if !decodeJSON(w, r, &req) {
		return
	}

	course, err := h.training.CreateCourse(r.Context(), middleware.SessionFrom(r.Context()).UserID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, course)
}

// GetCourse handles GET /api/v1/admin/courses/{id}
func (h *TrainingHandler) GetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	course, err := h.training.GetCourse(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, course)
}

// UpdateCourse handles PUT /api/v1/admin/courses/{id}
func (h *TrainingHandler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req training.CourseInput
	if !decodeJSON(w, r, &req) {
		return
	}

	course, err := h.training.UpdateCourse(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, course)
}

// DeleteCourse handles DELETE /api/v1/admin/courses/{id}
func (h *TrainingHandler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.training.DeleteCourse(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Course deleted"})
}

// AddModule handles POST /api/v1/admin/courses/{id}/modules
func (h *TrainingHandler) AddModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req training.ModuleInput
	if !decodeJSON(w, r, &req) {
		return
	}

	module, err := h.training.AddModule(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, module)
}

// AddLesson handles POST /api/v1/admin/courses/{id}/lessons
func (h *TrainingHandler) AddLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req training.LessonInput
	if !decodeJSON(w, r, &req) {
		return
	}

	lesson, err := h.training.AddLesson(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, lesson)
}

// ListAssignments handles GET /api/v1/admin/courses/{id}/assignments
func (h *TrainingHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	assignments, err := h.training.ListAssignments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, assignments)
}

// Assign handles POST /api/v1/admin/courses/{id}/assign
func (h *TrainingHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req training.AssignInput
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.training.Assign(r.Context(), middleware.SessionFrom(r.Context()).UserID, id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Unassign handles DELETE /api/v1/admin/courses/{id}/assign/{userId}
func (h *TrainingHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}

	if err := h.training.Unassign(r.Context(), id, userID); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Course unassigned"})
}

// MyCourses handles GET /api/v1/training/my-courses
func (h *TrainingHandler) MyCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.training.MyCourses(r.Context(), middleware.SessionFrom(r.Context()).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// Progress handles GET /api/v1/training/progress/{courseId}
func (h *TrainingHandler) Progress(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathUUID(w, r, "courseId")
	if !ok {
		return
	}

	view, err := h.training.CourseProgress(r.Context(), middleware.SessionFrom(r.Context()).UserID, courseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

type progressRequest struct {
	LessonID  uuid.UUID `json:"lesson_id"`
	Completed bool      `json:"completed"`
}

// SetProgress handles POST /api/v1/training/progress
func (h *TrainingHandler) SetProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LessonID == uuid.Nil {
		badRequest(w, "lesson_id is required")
		return
	}

	progress, err := h.training.SetProgress(r.Context(), middleware.SessionFrom(r.Context()).UserID, req.LessonID, req.Completed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, progress)
}
