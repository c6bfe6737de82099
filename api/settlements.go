/*
Copyright 2024 Lattice Payments Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/lattice-pay/lattice/api/model"
	"github.com/lattice-pay/lattice/internal/request"
)

// ReceiveSettlement handles the engine's incoming settlement notification.
// The Idempotency-Key header scopes the credit: the same key always gets the
// same reply, and the credit is applied at most once.
func (a Api) ReceiveSettlement(c *gin.Context) {
	id := c.Param("id")

	idempotencyKey := c.GetHeader(request.IdempotencyHeader)
	if idempotencyKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key header is required"})
		return
	}

	var notification model2.SettlementNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := notification.ValidateSettlementNotification(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, _, err := a.lattice.OnIncomingSettlement(c.Request.Context(), id, idempotencyKey, notification.ToQuantity())
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(result.Status, "application/json", result.Body)
}

func (a Api) GetAccountSettlements(c *gin.Context) {
	id := c.Param("id")

	// 404 for an unknown account rather than an empty list.
	if _, err := a.lattice.GetAccount(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	records, err := a.lattice.GetSettlementsByAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
