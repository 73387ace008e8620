// Package cmskit embeds the cmskit content engine in a Go program.
//
// A Client owns the document store, the collection registry and the file
// storage. Collections come from YAML files, from Go code, or both:
//
//	products, _ := cmskit.NewCollection("products", "Products", &cmskit.Schema{
//	    Name: "Product",
//	    Properties: cmskit.NewProperties(
//	        cmskit.Named("name", &cmskit.Property{DataType: cmskit.String}),
//	    ),
//	})
//
//	client, _ := cmskit.New(ctx,
//	    cmskit.WithSQLite("file:cms.db"),
//	    cmskit.WithSchemaDir("collections"),
//	    cmskit.WithCollections(products),
//	    cmskit.WithCallbacks("products", cmskit.Callbacks{OnPreSave: ...}),
//	)
//	defer client.Close()
//
//	res := client.Entities("products").Create(ctx, "", map[string]any{"name": "Lamp"})
//	if res.Err != nil { ... }
//
// # Serving the editor API
//
// Handler returns the HTTP API the editor front end talks to:
//
//	http.ListenAndServe(":8080", client.Handler())
package cmskit
