package server

import (
	"fmt"
	"net/http"
	"os"

	"librarium/internal/web"
)

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, http.StatusOK, map[string]string{"message": "Library Management Backend is running"})
}

type statusResponse struct {
	Backend          string   `json:"backend"`
	Database         string   `json:"database"`
	Driver           string   `json:"driver"`
	DatabaseURL      string   `json:"database_url"`
	DatabaseName     string   `json:"database_name"`
	ConnectionStatus string   `json:"connection_status"`
	Collections      []string `json:"collections"`
}

// handleTest reports store connectivity. It always answers 200; failures are
// described in the body.
func (a *App) handleTest(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Backend:          "✅ Running",
		Database:         "❌ Not Available",
		Driver:           a.opts.Driver,
		DatabaseURL:      presence("DATABASE_URL"),
		DatabaseName:     presence("DATABASE_NAME"),
		ConnectionStatus: "Not Connected",
		Collections:      []string{},
	}

	if err := a.Store.Ping(r.Context()); err != nil {
		resp.Database = fmt.Sprintf("❌ Error: %s", truncate(err.Error(), 50))
		web.JSON(w, http.StatusOK, resp)
		return
	}
	resp.Database = "✅ Available"
	resp.ConnectionStatus = "Connected"

	collections, err := a.Store.Collections(r.Context())
	if err != nil {
		resp.Database = fmt.Sprintf("⚠️ Connected but Error: %s", truncate(err.Error(), 50))
		web.JSON(w, http.StatusOK, resp)
		return
	}
	if len(collections) > 10 {
		collections = collections[:10]
	}
	resp.Collections = collections
	resp.Database = "✅ Connected & Working"

	web.JSON(w, http.StatusOK, resp)
}

func presence(key string) string {
	if os.Getenv(key) != "" {
		return "✅ Set"
	}
	return "❌ Not Set"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func handleSchema(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, http.StatusOK, schema)
}

type property map[string]any

func object(title string, required []string, props map[string]property) map[string]any {
	return map[string]any{
		"title":      title,
		"type":       "object",
		"required":   required,
		"properties": props,
	}
}

func optional(typ, description string) property {
	return property{
		"anyOf":       []property{{"type": typ}, {"type": "null"}},
		"default":     nil,
		"description": description,
	}
}

var schema = map[string]any{
	"book": object("Book", []string{"title", "author"}, map[string]property{
		"title":            {"type": "string", "description": "Book title"},
		"author":           {"type": "string", "description": "Author name"},
		"isbn":             optional("string", "ISBN identifier"),
		"category":         optional("string", "Genre or category"),
		"total_copies":     {"type": "integer", "minimum": 0, "default": 1, "description": "Total number of copies owned"},
		"available_copies": {"type": "integer", "minimum": 0, "default": 1, "description": "Currently available copies"},
		"tags": {
			"anyOf":       []property{{"type": "array", "items": property{"type": "string"}}, {"type": "null"}},
			"default":     nil,
			"description": "Searchable tags",
		},
	}),
	"member": object("Member", []string{"name", "email"}, map[string]property{
		"name":      {"type": "string", "description": "Full name"},
		"email":     {"type": "string", "description": "Email address"},
		"phone":     optional("string", "Phone number"),
		"is_active": {"type": "boolean", "default": true, "description": "Active membership status"},
	}),
	"loan": object("Loan", []string{"member_id", "book_id"}, map[string]property{
		"member_id": {"type": "string", "description": "Member id"},
		"book_id":   {"type": "string", "description": "Book id"},
		"due_date": {
			"anyOf":       []property{{"type": "string", "format": "date"}, {"type": "null"}},
			"default":     nil,
			"description": "Date when the book is due",
		},
		"returned": {"type": "boolean", "default": false, "description": "Whether the book has been returned"},
	}),
}
