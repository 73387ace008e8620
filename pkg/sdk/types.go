package cmskit

import (
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	dombatch "github.com/kailas-cloud/cmskit/internal/domain/batch"
	domcol "github.com/kailas-cloud/cmskit/internal/domain/collection"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
	collectionuc "github.com/kailas-cloud/cmskit/internal/usecase/collection"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
)

// Collection definitions.
type (
	Collection       = domcol.Collection
	CollectionOption = domcol.Option
	Schema           = domcol.Schema
	CustomID         = domcol.CustomID
	Callbacks        = domcol.Callbacks
	SaveHookInput    = domcol.SaveHookInput
	DeleteHookInput  = domcol.DeleteHookInput
)

// Properties.
type (
	Property     = property.Property
	Properties   = property.Properties
	DataType     = property.DataType
	Validation   = property.Validation
	FieldConfig  = property.Config
	StorageMeta  = property.StorageMeta
	EnumValue    = property.EnumValue
	Builder      = property.Builder
	BuildContext = property.BuildContext
)

// Property data types.
const (
	String    = property.String
	Number    = property.Number
	Boolean   = property.Boolean
	Timestamp = property.Timestamp
	GeoPoint  = property.GeoPoint
	Reference = property.Reference
	Map       = property.Map
	Array     = property.Array
)

// Entities and queries.
type (
	Entity = domentity.Entity
	Query  = domentity.Query
	Order  = domentity.Order
)

// Sort directions.
const (
	Asc  = domentity.Asc
	Desc = domentity.Desc
)

// Pipeline results.
type (
	Result       = entityuc.Result
	Outcome      = entityuc.Outcome
	BulkResult   = entityuc.BulkResult
	BatchOutcome = dombatch.Outcome
)

// Pipeline outcomes.
const (
	OutcomeSuccess         = entityuc.OutcomeSuccess
	OutcomeConfigError     = entityuc.OutcomeConfigError
	OutcomeStructuralError = entityuc.OutcomeStructuralError
	OutcomePreHookError    = entityuc.OutcomePreHookError
	OutcomePostHookError   = entityuc.OutcomePostHookError
	OutcomeTransportError  = entityuc.OutcomeTransportError
)

// Access control.
type (
	Principal   = auth.Principal
	Permissions = auth.Permissions
	Authorizer  = auth.Authorizer
)

// Views.
type (
	CollectionSize = layout.CollectionSize
	Summary        = collectionuc.Summary
	SchemaView     = collectionuc.SchemaView
	Form           = collectionuc.Form
	Table          = collectionuc.Table
)

// Constructors re-exported from the domain layer.
var (
	NewCollection      = domcol.New
	WithDescription    = domcol.WithDescription
	WithGroup          = domcol.WithGroup
	WithSize           = domcol.WithSize
	WithPermissions    = domcol.WithPermissions
	WithSubcollections = domcol.WithSubcollections
	NewProperties      = property.NewProperties
	Named              = property.Named
	FromBuilder        = property.FromBuilder
	NewRoleAuthorizer  = auth.NewRoleAuthorizer
	WithPrincipal      = auth.WithPrincipal
)
