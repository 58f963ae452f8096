// Package handler binds a crud.Service to HTTP routes.
package handler

import (
	"errors"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/stevemurr/collection-crud/crud"
	"github.com/stevemurr/collection-crud/document"
	"github.com/stevemurr/collection-crud/store"
)

// DefaultParamsKey is the path parameter holding the document id.
const DefaultParamsKey = "id"

var (
	ErrNilRouter  = errors.New("handler: router must be set")
	ErrNilService = errors.New("handler: service must be set")

	// ErrInvalidBody is returned when a request body is not a JSON object.
	ErrInvalidBody = errors.New("invalid request body")
)

// Action handles one route and returns the value to respond with. The
// proxied adapter turns the result or error into the HTTP response.
type Action func(c *gin.Context) (any, error)

// Controller registers the default CRUD routes for one collection on an
// injected router.
type Controller struct {
	// ParamsKey names the path parameter carrying the id. Set it before
	// calling SetDefaultRoutes.
	ParamsKey string

	service *crud.Service
	router  gin.IRoutes

	// routeKey is the ParamsKey the routes were registered with.
	routeKey string
}

// New builds the Service for collection and wraps it in a Controller.
func New(s store.Store, collection string, router gin.IRoutes, opts ...crud.Option) (*Controller, error) {
	svc, err := crud.New(s, collection, opts...)
	if err != nil {
		return nil, err
	}
	return NewController(svc, router)
}

func NewController(svc *crud.Service, router gin.IRoutes) (*Controller, error) {
	if svc == nil {
		return nil, ErrNilService
	}
	if router == nil {
		return nil, ErrNilRouter
	}
	return &Controller{ParamsKey: DefaultParamsKey, service: svc, router: router}, nil
}

func (c *Controller) Service() *crud.Service { return c.service }
func (c *Controller) Router() gin.IRoutes    { return c.router }

func (c *Controller) paramsKey() string {
	if c.ParamsKey == "" {
		return DefaultParamsKey
	}
	return c.ParamsKey
}

// SetDefaultRoutes registers, in order:
//
//	GET    /     Index   all documents
//	GET    /:id  View    one document
//	PUT    /     Insert  create a document from the body
//	POST   /:id  Update  patch a document with the body
//	DELETE /:id  Remove  delete a document
//
// The middlewares run before every action, in the given order.
func (c *Controller) SetDefaultRoutes(middlewares ...gin.HandlerFunc) gin.IRoutes {
	r := c.router
	c.routeKey = c.paramsKey()
	idPath := "/:" + c.routeKey
	r.GET("/", c.chain(middlewares, "index", c.Index)...)
	r.GET(idPath, c.chain(middlewares, "view", c.View)...)
	r.PUT("/", c.chain(middlewares, "insert", c.Insert)...)
	r.POST(idPath, c.chain(middlewares, "update", c.Update)...)
	r.DELETE(idPath, c.chain(middlewares, "remove", c.Remove)...)
	return r
}

func (c *Controller) chain(middlewares []gin.HandlerFunc, name string, action Action) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	handlers = append(handlers, middlewares...)
	return append(handlers, c.Proxied(name, action))
}

func (c *Controller) Index(ctx *gin.Context) (any, error) {
	return c.service.GetAll(ctx.Request.Context())
}

func (c *Controller) View(ctx *gin.Context) (any, error) {
	return c.service.ByID(ctx.Request.Context(), c.id(ctx))
}

func (c *Controller) Insert(ctx *gin.Context) (any, error) {
	fields, err := bindFields(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := c.service.Create(fields)
	if err != nil {
		return nil, err
	}
	return c.service.Insert(ctx.Request.Context(), doc)
}

func (c *Controller) Update(ctx *gin.Context) (any, error) {
	fields, err := bindFields(ctx)
	if err != nil {
		return nil, err
	}
	return c.service.UpdateByID(ctx.Request.Context(), c.id(ctx), fields)
}

func (c *Controller) Remove(ctx *gin.Context) (any, error) {
	return c.service.DeleteByID(ctx.Request.Context(), c.id(ctx))
}

func (c *Controller) id(ctx *gin.Context) document.ID {
	key := c.routeKey
	if key == "" {
		key = c.paramsKey()
	}
	return document.ParseID(ctx.Param(key))
}

// bindFields decodes the body into a field map. An empty body is an empty
// map.
func bindFields(ctx *gin.Context) (document.Fields, error) {
	fields := document.Fields{}
	if ctx.Request.Body == nil || ctx.Request.ContentLength == 0 {
		return fields, nil
	}
	if err := ctx.ShouldBindJSON(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return document.Fields{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if fields == nil {
		fields = document.Fields{}
	}
	return fields, nil
}
