package model

// JWTのroleクレーム
const (
	RoleCustomer = "CUSTOMER"
	RoleOwner    = "OWNER"
	RoleManager  = "MANAGER"
	RoleAdmin    = "ADMIN"
	// サービス間呼び出し
	RoleInternal = "INTERNAL"
)
