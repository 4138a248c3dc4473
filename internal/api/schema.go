package api

import (
	"net/http"
)

type columnResponse struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Constraints []string `json:"constraints,omitempty"`
}

type relationshipResponse struct {
	Column     string `json:"column"`
	References string `json:"references"`
}

type tableResponse struct {
	Name          string                 `json:"name"`
	Columns       []columnResponse       `json:"columns"`
	Relationships []relationshipResponse `json:"relationships,omitempty"`
	Notes         []string               `json:"notes,omitempty"`
}

type schemaResponse struct {
	Tables   []tableResponse `json:"tables"`
	Rendered string          `json:"rendered"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}

	tables := deps.Schema.Tables()
	response := schemaResponse{
		Tables:   make([]tableResponse, 0, len(tables)),
		Rendered: deps.Schema.Render(),
	}
	for _, table := range tables {
		converted := tableResponse{
			Name:    table.Name,
			Columns: make([]columnResponse, 0, len(table.Columns)),
			Notes:   table.Notes,
		}
		for _, column := range table.Columns {
			converted.Columns = append(converted.Columns, columnResponse{
				Name:        column.Name,
				Type:        column.Type,
				Constraints: column.Constraints,
			})
		}
		for _, relationship := range table.Relationships {
			converted.Relationships = append(converted.Relationships, relationshipResponse{
				Column:     relationship.Column,
				References: relationship.References,
			})
		}
		response.Tables = append(response.Tables, converted)
	}

	writeJSON(w, http.StatusOK, response)
}
