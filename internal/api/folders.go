package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/RichardoC/mentorfy/internal/db"
	"github.com/RichardoC/mentorfy/internal/folders"
	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const searchLimit = 20

type FolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type MoveFolderRequest struct {
	ParentID string `json:"parent_id"`
}

type KnowledgeRequest struct {
	FolderID string `json:"folder_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

func (h *Handler) loadTree(c *gin.Context) (*folders.Tree, bool) {
	list, err := h.db.ListFolders(c.Request.Context(), orgID(c))
	if err != nil {
		h.storeError(c, "folders", err)
		return nil, false
	}
	tree, err := folders.Build(list)
	if err != nil {
		h.logger.Error("Stored folder tree is corrupt", zap.String("org_id", orgID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return tree, true
}

// folderError maps tree errors to responses.
func folderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, folders.ErrCycle):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, folders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *Handler) GetFolders(c *gin.Context) {
	tree, ok := h.loadTree(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, tree.Nested())
}

func (h *Handler) CreateFolder(c *gin.Context) {
	var req FolderRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.ParentID != "" {
		tree, ok := h.loadTree(c)
		if !ok {
			return
		}
		if _, found := tree.Get(req.ParentID); !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "parent folder not found"})
			return
		}
	}

	f := &models.Folder{OrgID: orgID(c), ParentID: req.ParentID, Name: req.Name}
	if err := h.db.CreateFolder(c.Request.Context(), f); err != nil {
		h.storeError(c, "folder", err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handler) RenameFolder(c *gin.Context) {
	var req FolderRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if err := h.db.RenameFolder(c.Request.Context(), orgID(c), c.Param("id"), req.Name); err != nil {
		h.storeError(c, "folder", err)
		return
	}
	c.Status(http.StatusOK)
}

// MoveFolder reparents a folder, refusing moves that would put a folder
// inside its own subtree.
func (h *Handler) MoveFolder(c *gin.Context) {
	var req MoveFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	tree, ok := h.loadTree(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := tree.CheckMove(id, req.ParentID); err != nil {
		folderError(c, err)
		return
	}

	err := h.db.MoveFolder(c.Request.Context(), orgID(c), id, req.ParentID)
	if errors.Is(err, db.ErrFolderCycle) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.storeError(c, "folder", err)
		return
	}
	c.Status(http.StatusOK)
}

// DeleteFolder removes a folder with its whole subtree.
func (h *Handler) DeleteFolder(c *gin.Context) {
	tree, ok := h.loadTree(c)
	if !ok {
		return
	}
	ids, err := tree.Descendants(c.Param("id"))
	if err != nil {
		folderError(c, err)
		return
	}

	if err := h.db.DeleteFolders(c.Request.Context(), orgID(c), ids); err != nil {
		h.storeError(c, "folders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": ids})
}

func (h *Handler) AddKnowledge(c *gin.Context) {
	var req KnowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if req.FolderID != "" {
		tree, ok := h.loadTree(c)
		if !ok {
			return
		}
		if _, found := tree.Get(req.FolderID); !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "folder not found"})
			return
		}
	}

	entry := &models.KnowledgeEntry{OrgID: orgID(c), FolderID: req.FolderID, Title: req.Title, Content: req.Content}
	if err := h.db.SaveToKnowledgeBase(c.Request.Context(), entry); err != nil {
		h.storeError(c, "knowledge", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) SearchKnowledge(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' is required"})
		return
	}

	results, err := h.db.SearchKnowledge(c.Request.Context(), orgID(c), query, searchLimit)
	if err != nil {
		h.storeError(c, "knowledge", err)
		return
	}
	c.JSON(http.StatusOK, results)
}
