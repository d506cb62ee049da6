package server

import (
	"encoding/json"
	stdhttp "net/http"

	"xinyuan_tech/fulfillment-service/internal/auth"
	"xinyuan_tech/fulfillment-service/internal/conf"
	"xinyuan_tech/fulfillment-service/internal/service"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Bootstrap, orders *service.OrderService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.Filter(operatorFilter),
		http.ErrorEncoder(customErrorEncoder),
	}
	if c.Server.Http.Addr != "" {
		opts = append(opts, http.Address(c.Server.Http.Addr))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, orders)

	// 注册健康检查端点
	srv.Route("/").GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, map[string]string{"status": "ok", "service": "fulfillment-service"})
	})

	return srv
}

// operatorFilter 从请求头提取操作员身份写入 context
func operatorFilter(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		operatorID := r.Header.Get("X-Operator-Id")
		role := auth.Role(r.Header.Get("X-Operator-Role"))
		if role == "" {
			role = auth.RoleStaff
		}
		if operatorID != "" {
			r = r.WithContext(auth.WithOperator(r.Context(), operatorID, role))
		}
		next.ServeHTTP(w, r)
	})
}

// registerRoutes 注册业务路由
func registerRoutes(srv *http.Server, orders *service.OrderService) {
	route := srv.Route("/v1")

	route.GET("/orders/{order_number}", func(ctx http.Context) error {
		reply, err := orders.GetOrder(ctx, ctx.Vars().Get("order_number"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.POST("/orders/{order_number}/hold", func(ctx http.Context) error {
		var req service.HoldCreditRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.OrderNumber = ctx.Vars().Get("order_number")
		reply, err := orders.HoldCredit(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.POST("/orders/{order_number}/capture", func(ctx http.Context) error {
		reply, err := orders.CapturePayment(ctx, ctx.Vars().Get("order_number"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.POST("/orders/{order_number}/items/ordered", func(ctx http.Context) error {
		var req service.MarkItemOrderedRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.OrderNumber = ctx.Vars().Get("order_number")
		reply, err := orders.MarkItemOrdered(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.POST("/orders/{order_number}/items/cancel", func(ctx http.Context) error {
		var req service.CancelItemsRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.OrderNumber = ctx.Vars().Get("order_number")
		reply, err := orders.CancelItems(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.POST("/orders/{order_number}/items/bulk", func(ctx http.Context) error {
		var req service.BulkUpdateItemsRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.OrderNumber = ctx.Vars().Get("order_number")
		reply, err := orders.BulkUpdateItems(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	route.POST("/orders/{order_number}/refund", func(ctx http.Context) error {
		var req service.ProcessRefundRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.OrderNumber = ctx.Vars().Get("order_number")
		reply, err := orders.ProcessRefund(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// 手动触发一轮扣款调度
	route.POST("/charge/run", func(ctx http.Context) error {
		reply, err := orders.RunChargeScheduler(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
}

func customErrorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	status := stdhttp.StatusInternalServerError
	response := map[string]interface{}{
		"code":    status,
		"message": "internal server error",
	}

	if se != nil {
		status = mapErrorStatus(int(se.Code))
		response["code"] = se.Code
		response["reason"] = se.Reason
		response["message"] = se.Message
		if len(se.Metadata) > 0 {
			response["metadata"] = se.Metadata
		}
	} else if err != nil {
		response["message"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func mapErrorStatus(code int) int {
	if code >= 100 && code < 600 {
		return code
	}
	if code >= 140000 && code < 150000 {
		return stdhttp.StatusBadRequest
	}
	return stdhttp.StatusInternalServerError
}
