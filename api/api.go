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
	"github.com/gin-gonic/gin"

	"github.com/lattice-pay/lattice"
	"github.com/lattice-pay/lattice/api/middleware"
	"github.com/lattice-pay/lattice/config"
)

type Api struct {
	lattice *lattice.Lattice
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts", a.GetAllAccounts)
	router.GET("/accounts/:id", a.GetAccount)

	router.POST("/accounts/:id/fulfillments", a.RecordFulfillment)

	router.POST("/accounts/:id/settlements", a.ReceiveSettlement)
	router.GET("/accounts/:id/settlements", a.GetAccountSettlements)

	router.POST("/accounts/:id/messages", a.RelayMessage)

	return a.router
}

func NewAPI(l *lattice.Lattice) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{lattice: l, router: r}
}
