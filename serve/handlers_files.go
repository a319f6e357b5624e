package serve

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/everydev1618/devspace/container"
	"github.com/everydev1618/devspace/realtime"
)

// --- File Handlers ---

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := container.ValidateWorkspaceID(id); err != nil {
		writeError(w, err)
		return
	}

	files, err := s.files.ListFiles(id, r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []FileEntry{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := container.ValidateWorkspaceID(id); err != nil {
		writeError(w, err)
		return
	}

	fc, err := s.files.ReadFile(id, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := container.ValidateWorkspaceID(id); err != nil {
		writeError(w, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxFileSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("file too large (max %d bytes)", MaxFileSize),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read body", Details: err.Error()})
		return
	}

	user := userFromRequest(r)
	entry, err := s.files.WriteFile(id, r.URL.Query().Get("path"), data)
	if err != nil {
		writeError(w, err)
		return
	}

	s.hub.BroadcastToRoom(id, realtime.FileSaved{
		WorkspaceID: id,
		Path:        entry.Path,
		UserID:      user,
		Size:        int(entry.Size),
		SavedAt:     entry.ModTime,
	})
	s.activity.Record(id, KindFileSaved, user, "saved "+entry.Path)

	writeJSON(w, http.StatusOK, entry)
}
