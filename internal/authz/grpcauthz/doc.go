// Package grpcauthz applies authz decisions to gRPC servers.
//
//	icpt := grpcauthz.New(authz.Bound(handle), grpcauthz.MethodDecision(""))
//	srv := grpc.NewServer(
//	    grpc.UnaryInterceptor(icpt.Unary()),
//	    grpc.StreamInterceptor(icpt.Stream()),
//	)
//
// Handlers retrieve the deciding oracle with authz.Extract(ctx).
package grpcauthz
