// Package api provides the read-only REST API over projected entities.
// @title ChainProjector API
// @version 1.0
// @description Read-only REST API for querying entities projected from EVM logs by ChainProjector
// @contact.name API Support
// @contact.url https://github.com/goran-ethernal/ChainProjector
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
package api
