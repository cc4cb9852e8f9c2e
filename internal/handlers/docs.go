package handlers

import (
	"encoding/json"
	"net/http"
)

func jsonContent(schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"application/json": map[string]interface{}{"schema": schema},
	}
}

func queryParam(name, description string, required bool) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      map[string]string{"type": "string"},
	}
}

var errorSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"error":   map[string]string{"type": "string"},
		"message": map[string]string{"type": "string"},
		"code":    map[string]string{"type": "integer"},
	},
}

var stageSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"stage": map[string]string{"type": "string"},
		"units": map[string]interface{}{
			"type":                 "object",
			"description":          "Unit count per final status (pending, fetched, transformed, skipped_empty, skipped_filtered, disabled)",
			"additionalProperties": map[string]string{"type": "integer"},
		},
	},
}

var runReportSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"run_id":      map[string]string{"type": "string", "format": "uuid"},
		"anchor":      map[string]string{"type": "string", "format": "date-time"},
		"window":      map[string]interface{}{"type": "array", "items": map[string]string{"type": "string", "format": "date-time"}},
		"started_at":  map[string]string{"type": "string", "format": "date-time"},
		"finished_at": map[string]string{"type": "string", "format": "date-time"},
		"duration":    map[string]string{"type": "string"},
		"result":      map[string]interface{}{"type": "string", "enum": []string{"success", "failed"}},
		"error":       map[string]string{"type": "string"},
		"ancillary":   stageSchema,
		"transform":   stageSchema,
		"cleanup": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"skipped":       map[string]string{"type": "boolean"},
				"files_removed": map[string]string{"type": "integer"},
				"dirs_removed":  map[string]string{"type": "integer"},
			},
		},
	},
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the dams sync API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Dams Sync API",
			"description": "Reservoir level synchronization: triggers runs, reports their outcome and exposes the source observations",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/v1/runs": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Trigger a synchronization run",
					"description": "Runs the ancillary, transform and cleanup stages over the window ending at time",
					"parameters": []map[string]interface{}{
						queryParam("time", "Run anchor (RFC3339 or YYYY-MM-DD HH:MM), defaults to now", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Run completed", "content": jsonContent(runReportSchema)},
						"400": map[string]interface{}{"description": "Invalid anchor", "content": jsonContent(errorSchema)},
						"409": map[string]interface{}{"description": "Another run is in progress", "content": jsonContent(errorSchema)},
						"500": map[string]interface{}{"description": "Run failed", "content": jsonContent(runReportSchema)},
					},
				},
			},
			"/api/v1/runs/latest": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Report of the latest finished run",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Latest run report", "content": jsonContent(runReportSchema)},
						"404": map[string]interface{}{"description": "No run has finished yet", "content": jsonContent(errorSchema)},
					},
				},
			},
			"/api/v1/observations": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Raw source observations",
					"description": "Rows recorded under a variable tag, ordered by dam code and time",
					"parameters": []map[string]interface{}{
						queryParam("tag", "Source variable tag", true),
						queryParam("from", "Range start, defaults to 24 hours before to", false),
						queryParam("to", "Range end, defaults to now", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Observations",
							"content": jsonContent(map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"data": map[string]interface{}{
										"type": "array",
										"items": map[string]interface{}{
											"type": "object",
											"properties": map[string]interface{}{
												"dam_code":    map[string]string{"type": "string"},
												"observed_at": map[string]string{"type": "string", "format": "date-time"},
												"value":       map[string]string{"type": "number"},
											},
										},
									},
									"total": map[string]string{"type": "integer"},
								},
							}),
						},
						"400": map[string]interface{}{"description": "Invalid parameters", "content": jsonContent(errorSchema)},
					},
				},
			},
			"/api/v1/dams": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Registered dams",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Dam registry"},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Checks the source database and reports the latest run result",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Healthy"},
						"503": map[string]interface{}{"description": "Source database unreachable"},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
