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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/lattice-pay/lattice/api/model"
	"github.com/lattice-pay/lattice/internal/apierror"
)

func (a Api) CreateAccount(c *gin.Context) {
	var newAccount model2.CreateAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newAccount.ValidateCreateAccount(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.lattice.CreateAccount(c.Request.Context(), newAccount.ToAccount())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAccount(c *gin.Context) {
	id := c.Param("id")

	account, err := a.lattice.GetAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (a Api) GetAllAccounts(c *gin.Context) {
	accounts, err := a.lattice.GetAllAccounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (a Api) RecordFulfillment(c *gin.Context) {
	id := c.Param("id")

	var fulfillment model2.RecordFulfillment
	if err := c.ShouldBindJSON(&fulfillment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := fulfillment.ValidateRecordFulfillment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	update, err := a.lattice.RecordFulfillment(c.Request.Context(), id, fulfillment.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, update)
}

// RelayMessage forwards the raw request body to the account's settlement
// engine and streams the engine's reply back.
func (a Api) RelayMessage(c *gin.Context) {
	id := c.Param("id")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := a.lattice.RelayMessage(c.Request.Context(), id, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", reply)
}

// respondError maps a service error to its HTTP status. Errors that are not
// APIErrors fall back to a 400 so internals never leak as 500 pages.
func respondError(c *gin.Context, err error) {
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr.Message, "code": apiErr.Code, "details": apiErr.Details})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
