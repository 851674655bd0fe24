package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immobilier/server/internal/database"
	"immobilier/server/internal/models"
)

type transactionQuery struct {
	CodeDepartement string   `form:"code_departement" binding:"omitempty,max=3"`
	CodeCommune     string   `form:"code_commune" binding:"omitempty,max=5"`
	CodePostal      string   `form:"code_postal" binding:"omitempty,max=5"`
	TypeLocal       string   `form:"type_local"`
	MinPrice        *float64 `form:"min_price" binding:"omitempty,gte=0"`
	MaxPrice        *float64 `form:"max_price" binding:"omitempty,gte=0"`
	MinSurface      *float64 `form:"min_surface" binding:"omitempty,gte=0"`
	MaxSurface      *float64 `form:"max_surface" binding:"omitempty,gte=0"`
	DateStart       string   `form:"date_start" binding:"omitempty,datetime=2006-01-02"`
	DateEnd         string   `form:"date_end" binding:"omitempty,datetime=2006-01-02"`
	Limit           int      `form:"limit" binding:"omitempty,gte=1,lte=1000"`
	Offset          int      `form:"offset" binding:"omitempty,gte=0"`
}

type opportunityQuery struct {
	BudgetMax  float64 `form:"budget_max" binding:"required,gt=0"`
	TypeLocal  string  `form:"type_local"`
	PriceM2Max float64 `form:"prix_m2_max" binding:"omitempty,gt=0"`
}

func (h *Handler) ListTransactions(c *gin.Context) {
	var q transactionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	rows, err := h.db.ListTransactions(c.Request.Context(), models.TransactionFilter{
		CodeDepartement: q.CodeDepartement,
		CodeCommune:     q.CodeCommune,
		CodePostal:      q.CodePostal,
		TypeLocal:       q.TypeLocal,
		MinPrice:        q.MinPrice,
		MaxPrice:        q.MaxPrice,
		MinSurface:      q.MinSurface,
		MaxSurface:      q.MaxSurface,
		StartDate:       q.DateStart,
		EndDate:         q.DateEnd,
		Limit:           q.Limit,
		Offset:          q.Offset,
	})
	if err != nil {
		h.respondError(c, "Failed to get transactions", err)
		return
	}

	c.JSON(http.StatusOK, rows)
}

// InvestmentOpportunities lists the cheapest communes per m2 where at least
// five sales fit the budget. The price per m2 ceiling defaults to a fiftieth
// of the budget.
func (h *Handler) InvestmentOpportunities(c *gin.Context) {
	var q opportunityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	if q.TypeLocal == "" {
		q.TypeLocal = "Appartement"
	}
	if q.PriceM2Max == 0 {
		q.PriceM2Max = q.BudgetMax / 50
	}

	h.logger.WithFields(logrus.Fields{
		"budget_max":  q.BudgetMax,
		"prix_m2_max": q.PriceM2Max,
		"type_local":  q.TypeLocal,
	}).Info("Searching investment opportunities")

	found, err := h.db.InvestmentOpportunities(c.Request.Context(), database.OpportunityQuery{
		TypeLocal:  q.TypeLocal,
		BudgetMax:  q.BudgetMax,
		PriceM2Max: q.PriceM2Max,
	})
	if err != nil {
		h.respondError(c, "Failed to get investment opportunities", err)
		return
	}

	now := h.now().Format(time.RFC3339)
	c.JSON(http.StatusOK, gin.H{
		"criteria": gin.H{
			"budget_max":     q.BudgetMax,
			"m2_max":         q.PriceM2Max,
			"type_local":     q.TypeLocal,
			"date_recherche": now,
		},
		"opportunities": found,
		"meta": gin.H{
			"total_found": len(found),
			"query_date":  now,
		},
	})
}

func (h *Handler) DepartmentStatistics(c *gin.Context) {
	code := c.Param("code")
	if code == "" || len(code) > 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid department code"})
		return
	}

	stats, err := h.db.DepartmentStats(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, "Failed to get department statistics", err)
		return
	}
	if stats == nil {
		stats = []models.DepartmentStats{}
	}

	c.JSON(http.StatusOK, gin.H{
		"department": code,
		"statistics": stats,
	})
}
