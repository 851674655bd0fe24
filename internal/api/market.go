package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"immobilier/server/internal/geometry"
	"immobilier/server/internal/models"
	"immobilier/server/internal/queue"
)

type marketQuery struct {
	CodeCommune     string `form:"code_commune" binding:"omitempty,max=5"`
	CodeDepartement string `form:"code_departement" binding:"omitempty,max=3"`
	TypeLocal       string `form:"type_local"`
	PeriodStart     string `form:"period_start" binding:"omitempty,datetime=2006-01"`
	PeriodEnd       string `form:"period_end" binding:"omitempty,datetime=2006-01"`
}

type communeQuery struct {
	Departement string `form:"departement" binding:"omitempty,max=3"`
	Limit       int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

type generateRequest struct {
	CodeDepartement string `form:"code_departement" json:"code_departement" binding:"omitempty,max=3"`
	CodeCommune     string `form:"code_commune" json:"code_commune" binding:"omitempty,max=5"`
}

type refreshRequest struct {
	Source string `json:"source"`
}

func (h *Handler) ListCommunes(c *gin.Context) {
	var q communeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	communes, err := h.db.ListCommunes(c.Request.Context(), models.CommuneFilter{
		CodeDepartement: q.Departement,
		Limit:           q.Limit,
	})
	if err != nil {
		h.respondError(c, "Failed to get communes", err)
		return
	}
	if communes == nil {
		communes = []models.Commune{}
	}

	c.JSON(http.StatusOK, communes)
}

// GetCommune answers with the commune, or with a GeoJSON feature when
// format=geojson.
func (h *Handler) GetCommune(c *gin.Context) {
	commune, err := h.db.GetCommune(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, "Failed to get commune", err)
		return
	}
	if commune == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Commune not found"})
		return
	}

	if c.Query("format") == "geojson" {
		raw, err := geometry.CommuneFeature(*commune).MarshalJSON()
		if err != nil {
			h.respondError(c, "Failed to encode commune", err)
			return
		}
		c.Data(http.StatusOK, "application/geo+json", raw)
		return
	}
	c.JSON(http.StatusOK, commune)
}

func (h *Handler) MarketAnalysis(c *gin.Context) {
	var q marketQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	rows, err := h.db.ListMarketAnalysis(c.Request.Context(), models.MarketFilter{
		CodeCommune:     q.CodeCommune,
		CodeDepartement: q.CodeDepartement,
		TypeLocal:       q.TypeLocal,
		PeriodStart:     q.PeriodStart,
		PeriodEnd:       q.PeriodEnd,
	})
	if err != nil {
		h.respondError(c, "Failed to get market analysis", err)
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No analysis found"})
		return
	}

	c.JSON(http.StatusOK, rows)
}

// MarketGeoJSON serves the latest figures of every located commune as a
// GeoJSON FeatureCollection.
func (h *Handler) MarketGeoJSON(c *gin.Context) {
	typeLocal := c.DefaultQuery("type_local", "Appartement")
	dept := c.Query("code_departement")

	rows, err := h.db.LatestMarketByCommune(c.Request.Context(), typeLocal, dept)
	if err != nil {
		h.respondError(c, "Failed to get market map", err)
		return
	}

	fc := geometry.CommuneCollection(rows)
	raw, err := fc.MarshalJSON()
	if err != nil {
		h.respondError(c, "Failed to encode market map", err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", raw)
}

func (h *Handler) GenerateAnalysis(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBind(&req); err != nil {
		bindError(c, err)
		return
	}

	h.enqueue(c, queue.Job{
		Kind:            queue.KindAnalysis,
		CodeDepartement: req.CodeDepartement,
		CodeCommune:     req.CodeCommune,
	})
}

// RefreshData queues a full refresh. An optional JSON body overrides the
// DVF source for this run.
func (h *Handler) RefreshData(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	h.enqueue(c, queue.Job{
		Kind:   queue.KindRefresh,
		Source: req.Source,
	})
}
