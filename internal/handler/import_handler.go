package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/bkimport/internal/model"
	"github.com/xxxsen/bkimport/internal/pkg/errcode"
	"github.com/xxxsen/bkimport/internal/pkg/response"
	"github.com/xxxsen/bkimport/internal/service"
)

const maxEntriesPerRequest = 1000

type ImportHandler struct {
	sessions      *service.SessionService
	maxUploadSize int64
}

func NewImportHandler(sessions *service.SessionService, maxUploadSize int64) *ImportHandler {
	return &ImportHandler{sessions: sessions, maxUploadSize: maxUploadSize}
}

type addEntriesRequest struct {
	Entries []model.RawCandidate `json:"entries"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (h *ImportHandler) Create(c *gin.Context) {
	var req service.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), getUserID(c), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

// Upload stages a whole export file in one call: multipart field "file",
// form fields "format", "name", "root_list_id" and "start".
func (h *ImportHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		response.Error(c, errcode.ErrInvalidFile, "file too large (max "+formatUploadLimit(h.maxUploadSize)+")")
		return
	}
	format := strings.TrimSpace(c.PostForm("format"))
	if format == "" {
		format = guessFormat(file.Filename)
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()

	session, err := h.sessions.ImportFile(c.Request.Context(), getUserID(c), service.ImportFileInput{
		CreateSessionInput: service.CreateSessionInput{
			Name:       c.PostForm("name"),
			Message:    c.PostForm("message"),
			RootListID: c.PostForm("root_list_id"),
		},
		Format:   format,
		FileName: file.Filename,
		Reader:   opened,
		Size:     file.Size,
		Start:    c.PostForm("start") == "true" || c.PostForm("start") == "1",
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *ImportHandler) AddEntries(c *gin.Context) {
	var req addEntriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if len(req.Entries) > maxEntriesPerRequest {
		response.Error(c, errcode.ErrInvalid, "too many entries in one request")
		return
	}
	added, err := h.sessions.AddEntries(c.Request.Context(), getUserID(c), c.Param("id"), req.Entries)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"added": added})
}

func (h *ImportHandler) Finalize(c *gin.Context) {
	h.respondSession(c, func(userID, id string) (*model.ImportSession, error) {
		return h.sessions.FinalizeStaging(c.Request.Context(), userID, id)
	})
}

func (h *ImportHandler) Start(c *gin.Context) {
	h.respondSession(c, func(userID, id string) (*model.ImportSession, error) {
		return h.sessions.Start(c.Request.Context(), userID, id)
	})
}

func (h *ImportHandler) Pause(c *gin.Context) {
	h.respondSession(c, func(userID, id string) (*model.ImportSession, error) {
		return h.sessions.Pause(c.Request.Context(), userID, id)
	})
}

func (h *ImportHandler) Resume(c *gin.Context) {
	h.respondSession(c, func(userID, id string) (*model.ImportSession, error) {
		return h.sessions.Resume(c.Request.Context(), userID, id)
	})
}

func (h *ImportHandler) Fail(c *gin.Context) {
	var req failRequest
	_ = c.ShouldBindJSON(&req)
	h.respondSession(c, func(userID, id string) (*model.ImportSession, error) {
		return h.sessions.Fail(c.Request.Context(), userID, id, req.Reason)
	})
}

func (h *ImportHandler) respondSession(c *gin.Context, fn func(userID, id string) (*model.ImportSession, error)) {
	session, err := fn(getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *ImportHandler) List(c *gin.Context) {
	var status model.SessionStatus
	if value := c.Query("status"); value != "" {
		parsed, err := model.ParseSessionStatus(value)
		if err != nil {
			response.Error(c, errcode.ErrInvalid, err.Error())
			return
		}
		status = parsed
	}
	limit := pageLimit(c)
	offset := queryInt(c, "offset", 0)
	items, err := h.sessions.List(c.Request.Context(), getUserID(c), status, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Paged(c, items, len(items), limit, offset)
}

// Get returns the session with its entry counts.
func (h *ImportHandler) Get(c *gin.Context) {
	progress, err := h.sessions.Progress(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, progress)
}

func (h *ImportHandler) ListEntries(c *gin.Context) {
	var status model.EntryStatus
	switch value := model.EntryStatus(c.Query("status")); value {
	case "":
	case model.EntryPending, model.EntryProcessing, model.EntryCompleted, model.EntryFailed:
		status = value
	default:
		response.Error(c, errcode.ErrInvalid, "unknown entry status")
		return
	}
	limit := pageLimit(c)
	offset := queryInt(c, "offset", 0)
	items, err := h.sessions.ListEntries(c.Request.Context(), getUserID(c), c.Param("id"), status, limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Paged(c, items, len(items), limit, offset)
}

func guessFormat(fileName string) string {
	name := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(name, ".html"), strings.HasSuffix(name, ".htm"):
		return "netscape"
	case strings.HasSuffix(name, ".md"), strings.HasSuffix(name, ".markdown"):
		return "markdown"
	case strings.HasSuffix(name, ".json"):
		return "json"
	}
	return ""
}
