//go:build wireinject
// +build wireinject

package main

import (
	"xinyuan_tech/fulfillment-service/internal/biz"
	"xinyuan_tech/fulfillment-service/internal/conf"
	"xinyuan_tech/fulfillment-service/internal/data"
	"xinyuan_tech/fulfillment-service/internal/server"
	"xinyuan_tech/fulfillment-service/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp 初始化应用
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newApp,
	))
}
