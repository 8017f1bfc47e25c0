package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/frihet-io/frihet-mcp/internal/frihet"
)

// Operations a tool performs on its resource.
const (
	OpList   = "list"
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpSearch = "search"
)

// runFunc performs a validated call and returns the text result.
type runFunc func(ctx context.Context, api frihet.API, args map[string]any, v *argValidator) (string, error)

// toolSpec is one MCP tool bound to a facade operation.
type toolSpec struct {
	resource  frihet.Resource
	operation string
	tool      mcp.Tool
	run       runFunc
}

// resourceSpec holds everything that differs between the CRUD tool sets of
// two resources.
type resourceSpec struct {
	resource  frihet.Resource
	label     string // "Invoice"
	labelES   string // "Factura"
	deletedES string // "eliminada"
	idDesc    string

	listDesc   string
	getDesc    string
	createDesc string
	updateDesc string
	deleteDesc string

	limitDesc  string
	offsetDesc string

	createFields []mcp.ToolOption
	updateFields []mcp.ToolOption
}

const (
	defaultLimitDesc  = "Max results (1-100) / Resultados maximos"
	defaultOffsetDesc = "Offset / Desplazamiento"
)

func (r resourceSpec) tools() []toolSpec {
	plural := r.label + "s"
	limitDesc, offsetDesc := r.limitDesc, r.offsetDesc
	if limitDesc == "" {
		limitDesc = defaultLimitDesc
	}
	if offsetDesc == "" {
		offsetDesc = defaultOffsetDesc
	}
	singular := r.resource.Singular()
	idOpt := mcp.WithString("id", mcp.Required(), mcp.Description(r.idDesc))

	list := mcp.NewTool("list_"+string(r.resource),
		mcp.WithDescription(r.listDesc),
		mcp.WithTitleAnnotation("List "+plural),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithNumber("limit", integer(), mcp.Min(1), mcp.Max(100), mcp.Description(limitDesc)),
		mcp.WithNumber("offset", integer(), mcp.Min(0), mcp.Description(offsetDesc)),
	)

	get := mcp.NewTool("get_"+singular,
		mcp.WithDescription(r.getDesc),
		mcp.WithTitleAnnotation("Get "+r.label),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		idOpt,
	)

	create := mcp.NewTool("create_"+singular, append([]mcp.ToolOption{
		mcp.WithDescription(r.createDesc),
		mcp.WithTitleAnnotation("Create " + r.label),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	}, r.createFields...)...)

	update := mcp.NewTool("update_"+singular, append([]mcp.ToolOption{
		mcp.WithDescription(r.updateDesc),
		mcp.WithTitleAnnotation("Update " + r.label),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		idOpt,
	}, r.updateFields...)...)

	del := mcp.NewTool("delete_"+singular,
		mcp.WithDescription(r.deleteDesc),
		mcp.WithTitleAnnotation("Delete "+r.label),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		idOpt,
	)

	res := r.resource
	return []toolSpec{
		{res, OpList, list, func(ctx context.Context, api frihet.API, args map[string]any, _ *argValidator) (string, error) {
			page, err := api.List(ctx, res, listParams(args))
			if err != nil {
				return "", err
			}
			return formatPage(string(res), page), nil
		}},
		{res, OpGet, get, func(ctx context.Context, api frihet.API, args map[string]any, _ *argValidator) (string, error) {
			rec, err := api.Get(ctx, res, stringArg(args, "id"))
			if err != nil {
				return "", err
			}
			return formatRecord(r.label, rec), nil
		}},
		{res, OpCreate, create, func(ctx context.Context, api frihet.API, args map[string]any, v *argValidator) (string, error) {
			rec, err := api.Create(ctx, res, v.record(args))
			if err != nil {
				return "", err
			}
			return formatRecord(r.label+" created", rec), nil
		}},
		{res, OpUpdate, update, func(ctx context.Context, api frihet.API, args map[string]any, v *argValidator) (string, error) {
			rec, err := api.Update(ctx, res, stringArg(args, "id"), v.record(args, "id"))
			if err != nil {
				return "", err
			}
			return formatRecord(r.label+" updated", rec), nil
		}},
		{res, OpDelete, del, func(ctx context.Context, api frihet.API, args map[string]any, _ *argValidator) (string, error) {
			id := stringArg(args, "id")
			if err := api.Delete(ctx, res, id); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s deleted successfully. / %s %s %s correctamente.",
				r.label, id, r.labelES, id, r.deletedES), nil
		}},
	}
}

// searchInvoicesTool is the one tool outside the CRUD pattern.
func searchInvoicesTool() toolSpec {
	tool := mcp.NewTool("search_invoices",
		mcp.WithDescription("Search invoices by client name. Useful for finding all invoices for a specific client. "+
			"/ Busca facturas por nombre de cliente. Util para encontrar todas las facturas de un cliente concreto."),
		mcp.WithTitleAnnotation("Search Invoices"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("clientName", mcp.Required(), mcp.Description("Client name to search for / Nombre del cliente a buscar")),
		mcp.WithNumber("limit", integer(), mcp.Min(1), mcp.Max(100), mcp.Description("Max results / Resultados maximos")),
		mcp.WithNumber("offset", integer(), mcp.Min(0), mcp.Description("Offset / Desplazamiento")),
	)
	return toolSpec{frihet.Invoices, OpSearch, tool, func(ctx context.Context, api frihet.API, args map[string]any, _ *argValidator) (string, error) {
		clientName := stringArg(args, "clientName")
		page, err := api.SearchInvoices(ctx, clientName, listParams(args))
		if err != nil {
			return "", err
		}
		return formatPage(fmt.Sprintf("invoices matching %q", clientName), page), nil
	}}
}

// ----- shared field schemas -----

var lineItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"description": map[string]any{"type": "string", "description": "Description of the line item / Descripcion del concepto"},
		"quantity":    map[string]any{"type": "number", "description": "Quantity / Cantidad"},
		"unitPrice":   map[string]any{"type": "number", "description": "Unit price in EUR / Precio unitario en EUR"},
	},
	"required": []string{"description", "quantity", "unitPrice"},
}

var addressProperties = map[string]any{
	"street":     map[string]any{"type": "string", "description": "Street address / Direccion"},
	"city":       map[string]any{"type": "string", "description": "City / Ciudad"},
	"postalCode": map[string]any{"type": "string", "description": "Postal code / Codigo postal"},
	"country":    map[string]any{"type": "string", "description": "Country (ISO code) / Pais"},
}

var (
	invoiceStatuses = []string{"draft", "sent", "paid", "overdue", "cancelled"}
	quoteStatuses   = []string{"draft", "sent", "accepted", "rejected", "expired"}
)

func lineItems(desc string, required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{mcp.Items(lineItemSchema), mcp.MinItems(1), mcp.Description(desc)}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithArray("items", opts...)
}

func taxRate(desc string) mcp.ToolOption {
	return mcp.WithNumber("taxRate", mcp.Min(0), mcp.Max(100), mcp.Description(desc))
}

func address() mcp.ToolOption {
	return mcp.WithObject("address", mcp.Properties(addressProperties), mcp.Description("Client address / Direccion del cliente"))
}

// resourceSpecs lists the CRUD tool sets in registration order.
var resourceSpecs = []resourceSpec{
	{
		resource: frihet.Invoices, label: "Invoice", labelES: "Factura", deletedES: "eliminada",
		idDesc: "Invoice ID / ID de la factura",
		listDesc: "List all invoices with optional pagination. " +
			"Returns a paginated list of invoices sorted by creation date. " +
			"/ Lista todas las facturas con paginacion opcional. " +
			"Devuelve una lista paginada de facturas ordenadas por fecha de creacion.",
		getDesc: "Get a single invoice by its ID. Returns the full invoice including line items, totals, and status. " +
			"/ Obtiene una factura por su ID. Devuelve la factura completa con conceptos, totales y estado.",
		createDesc: "Create a new invoice. Requires client name and at least one line item. " +
			"The invoice number is auto-generated. " +
			"/ Crea una nueva factura. Requiere nombre del cliente y al menos un concepto. " +
			"El numero de factura se genera automaticamente.",
		updateDesc: "Update an existing invoice. Only the provided fields will be changed. " +
			"/ Actualiza una factura existente. Solo se modifican los campos proporcionados.",
		deleteDesc: "Permanently delete an invoice by its ID. This action cannot be undone. " +
			"/ Elimina permanentemente una factura por su ID. Esta accion no se puede deshacer.",
		limitDesc:  "Max results per page (1-100, default 50) / Resultados por pagina",
		offsetDesc: "Number of results to skip / Resultados a saltar",
		createFields: []mcp.ToolOption{
			mcp.WithString("clientName", mcp.Required(), mcp.Description("Client/customer name / Nombre del cliente")),
			lineItems("Line items / Conceptos de la factura", true),
			mcp.WithString("status", mcp.Enum(invoiceStatuses...), mcp.Description("Invoice status (default: draft) / Estado de la factura")),
			mcp.WithString("dueDate", mcp.Description("Due date in ISO 8601 format (YYYY-MM-DD) / Fecha de vencimiento")),
			mcp.WithString("notes", mcp.Description("Additional notes / Notas adicionales")),
			taxRate("Tax rate percentage (e.g. 21 for 21% IVA) / Porcentaje de impuesto"),
		},
		updateFields: []mcp.ToolOption{
			mcp.WithString("clientName", mcp.Description("Client name / Nombre del cliente")),
			lineItems("Line items / Conceptos", false),
			mcp.WithString("status", mcp.Enum(invoiceStatuses...), mcp.Description("Invoice status / Estado")),
			mcp.WithString("dueDate", mcp.Description("Due date (YYYY-MM-DD) / Fecha de vencimiento")),
			mcp.WithString("notes", mcp.Description("Notes / Notas")),
			taxRate("Tax rate % / IVA %"),
		},
	},
	{
		resource: frihet.Expenses, label: "Expense", labelES: "Gasto", deletedES: "eliminado",
		idDesc: "Expense ID / ID del gasto",
		listDesc: "List all expenses with optional pagination. " +
			"/ Lista todos los gastos con paginacion opcional.",
		getDesc: "Get a single expense by its ID. " +
			"/ Obtiene un gasto por su ID.",
		createDesc: "Record a new expense. Requires a description and amount. " +
			"Useful for tracking business costs, deductible expenses, and vendor payments. " +
			"/ Registra un nuevo gasto. Requiere descripcion e importe. " +
			"Util para seguimiento de costes, gastos deducibles y pagos a proveedores.",
		updateDesc: "Update an existing expense. Only the provided fields will be changed. " +
			"/ Actualiza un gasto existente. Solo se modifican los campos proporcionados.",
		deleteDesc: "Permanently delete an expense by its ID. This action cannot be undone. " +
			"/ Elimina permanentemente un gasto por su ID. Esta accion no se puede deshacer.",
		createFields: []mcp.ToolOption{
			mcp.WithString("description", mcp.Required(), mcp.Description("Expense description / Descripcion del gasto")),
			mcp.WithNumber("amount", mcp.Required(), mcp.Description("Amount in EUR / Importe en EUR")),
			mcp.WithString("category", mcp.Description("Expense category (e.g. 'office', 'travel', 'software') / Categoria")),
			mcp.WithString("date", mcp.Description("Expense date in ISO 8601 (YYYY-MM-DD) / Fecha del gasto")),
			mcp.WithString("vendor", mcp.Description("Vendor/supplier name / Nombre del proveedor")),
			mcp.WithBoolean("taxDeductible", mcp.Description("Whether the expense is tax deductible / Si el gasto es deducible fiscalmente")),
		},
		updateFields: []mcp.ToolOption{
			mcp.WithString("description", mcp.Description("Description / Descripcion")),
			mcp.WithNumber("amount", mcp.Description("Amount in EUR / Importe")),
			mcp.WithString("category", mcp.Description("Category / Categoria")),
			mcp.WithString("date", mcp.Description("Date (YYYY-MM-DD) / Fecha")),
			mcp.WithString("vendor", mcp.Description("Vendor / Proveedor")),
			mcp.WithBoolean("taxDeductible", mcp.Description("Tax deductible / Deducible")),
		},
	},
	{
		resource: frihet.Clients, label: "Client", labelES: "Cliente", deletedES: "eliminado",
		idDesc: "Client ID / ID del cliente",
		listDesc: "List all clients/customers with optional pagination. " +
			"Returns contact info, tax IDs, and addresses. " +
			"/ Lista todos los clientes con paginacion opcional. " +
			"Devuelve informacion de contacto, NIF/CIF y direcciones.",
		getDesc: "Get a single client by their ID. Returns full contact details. " +
			"/ Obtiene un cliente por su ID. Devuelve todos los datos de contacto.",
		createDesc: "Create a new client/customer. Requires at minimum a name. " +
			"Clients are used when creating invoices and quotes. " +
			"/ Crea un nuevo cliente. Requiere como minimo un nombre. " +
			"Los clientes se usan al crear facturas y presupuestos.",
		updateDesc: "Update an existing client. Only the provided fields will be changed. " +
			"/ Actualiza un cliente existente. Solo se modifican los campos proporcionados.",
		deleteDesc: "Permanently delete a client by their ID. This action cannot be undone. " +
			"Warning: this may affect existing invoices and quotes referencing this client. " +
			"/ Elimina permanentemente un cliente por su ID. Esta accion no se puede deshacer. " +
			"Advertencia: puede afectar a facturas y presupuestos existentes.",
		createFields: []mcp.ToolOption{
			mcp.WithString("name", mcp.Required(), mcp.Description("Client/company name / Nombre del cliente o empresa")),
			mcp.WithString("email", mcp.Description("Email address / Correo electronico")),
			mcp.WithString("phone", mcp.Description("Phone number / Telefono")),
			mcp.WithString("taxId", mcp.Description("Tax ID (NIF/CIF/VAT) / NIF o CIF")),
			address(),
		},
		updateFields: []mcp.ToolOption{
			mcp.WithString("name", mcp.Description("Name / Nombre")),
			mcp.WithString("email", mcp.Description("Email / Correo")),
			mcp.WithString("phone", mcp.Description("Phone / Telefono")),
			mcp.WithString("taxId", mcp.Description("Tax ID / NIF/CIF")),
			address(),
		},
	},
	{
		resource: frihet.Products, label: "Product", labelES: "Producto", deletedES: "eliminado",
		idDesc: "Product ID / ID del producto",
		listDesc: "List all products/services with optional pagination. " +
			"Products are reusable items that can be added to invoices and quotes. " +
			"/ Lista todos los productos/servicios con paginacion opcional. " +
			"Los productos son conceptos reutilizables para facturas y presupuestos.",
		getDesc: "Get a single product/service by its ID. " +
			"/ Obtiene un producto/servicio por su ID.",
		createDesc: "Create a new product or service. Requires a name and unit price. " +
			"Products can be referenced when creating invoices and quotes for faster data entry. " +
			"/ Crea un nuevo producto o servicio. Requiere nombre y precio unitario. " +
			"Los productos se pueden usar al crear facturas y presupuestos.",
		updateDesc: "Update an existing product. Only the provided fields will be changed. " +
			"/ Actualiza un producto existente. Solo se modifican los campos proporcionados.",
		deleteDesc: "Permanently delete a product by its ID. This action cannot be undone. " +
			"/ Elimina permanentemente un producto por su ID. Esta accion no se puede deshacer.",
		createFields: []mcp.ToolOption{
			mcp.WithString("name", mcp.Required(), mcp.Description("Product/service name / Nombre del producto o servicio")),
			mcp.WithNumber("unitPrice", mcp.Required(), mcp.Description("Unit price in EUR / Precio unitario en EUR")),
			mcp.WithString("description", mcp.Description("Product description / Descripcion")),
			mcp.WithString("unit", mcp.Description("Unit of measurement (e.g. 'hour', 'unit', 'kg') / Unidad de medida")),
			taxRate("Default tax rate % (e.g. 21 for 21% IVA) / IVA por defecto"),
			mcp.WithString("sku", mcp.Description("SKU / Reference code / Codigo de referencia")),
		},
		updateFields: []mcp.ToolOption{
			mcp.WithString("name", mcp.Description("Name / Nombre")),
			mcp.WithNumber("unitPrice", mcp.Description("Unit price / Precio unitario")),
			mcp.WithString("description", mcp.Description("Description / Descripcion")),
			mcp.WithString("unit", mcp.Description("Unit / Unidad")),
			taxRate("Tax rate % / IVA %"),
			mcp.WithString("sku", mcp.Description("SKU / Referencia")),
		},
	},
	{
		resource: frihet.Quotes, label: "Quote", labelES: "Presupuesto", deletedES: "eliminado",
		idDesc: "Quote ID / ID del presupuesto",
		listDesc: "List all quotes/estimates with optional pagination. " +
			"Quotes are proposals sent to clients before they become invoices. " +
			"/ Lista todos los presupuestos con paginacion opcional. " +
			"Los presupuestos son propuestas enviadas a clientes antes de facturar.",
		getDesc: "Get a single quote/estimate by its ID. Returns the full quote with line items and totals. " +
			"/ Obtiene un presupuesto por su ID. Devuelve el presupuesto completo con conceptos y totales.",
		createDesc: "Create a new quote/estimate for a client. Requires client name and at least one line item. " +
			"Quotes can later be converted to invoices. " +
			"/ Crea un nuevo presupuesto para un cliente. Requiere nombre del cliente y al menos un concepto. " +
			"Los presupuestos se pueden convertir en facturas despues.",
		updateDesc: "Update an existing quote. Only the provided fields will be changed. " +
			"/ Actualiza un presupuesto existente. Solo se modifican los campos proporcionados.",
		deleteDesc: "Permanently delete a quote by its ID. This action cannot be undone. " +
			"/ Elimina permanentemente un presupuesto por su ID. Esta accion no se puede deshacer.",
		createFields: []mcp.ToolOption{
			mcp.WithString("clientName", mcp.Required(), mcp.Description("Client name / Nombre del cliente")),
			lineItems("Line items / Conceptos del presupuesto", true),
			mcp.WithString("validUntil", mcp.Description("Expiry date in ISO 8601 (YYYY-MM-DD) / Fecha de validez")),
			mcp.WithString("notes", mcp.Description("Additional notes / Notas adicionales")),
			mcp.WithString("status", mcp.Enum(quoteStatuses...), mcp.Description("Quote status (default: draft) / Estado del presupuesto")),
		},
		updateFields: []mcp.ToolOption{
			mcp.WithString("clientName", mcp.Description("Client name / Nombre del cliente")),
			lineItems("Line items / Conceptos", false),
			mcp.WithString("validUntil", mcp.Description("Expiry date / Fecha de validez")),
			mcp.WithString("notes", mcp.Description("Notes / Notas")),
		},
	},
	{
		resource: frihet.Webhooks, label: "Webhook", labelES: "Webhook", deletedES: "eliminado",
		idDesc: "Webhook ID / ID del webhook",
		listDesc: "List all configured webhooks. Webhooks send HTTP POST notifications when events occur in Frihet. " +
			"/ Lista todos los webhooks configurados. Los webhooks envian notificaciones HTTP POST cuando ocurren eventos en Frihet.",
		getDesc: "Get a single webhook configuration by its ID. " +
			"/ Obtiene la configuracion de un webhook por su ID.",
		createDesc: "Register a new webhook endpoint. You must specify the URL to receive notifications " +
			"and which events to subscribe to (e.g. 'invoice.created', 'invoice.paid', 'expense.created'). " +
			"/ Registra un nuevo endpoint de webhook. Debes especificar la URL y los eventos " +
			"a los que suscribirte (ej. 'invoice.created', 'invoice.paid', 'expense.created').",
		updateDesc: "Update an existing webhook configuration. Only the provided fields will be changed. " +
			"/ Actualiza la configuracion de un webhook. Solo se modifican los campos proporcionados.",
		deleteDesc: "Permanently delete a webhook by its ID. Notifications will stop immediately. " +
			"/ Elimina permanentemente un webhook por su ID. Las notificaciones se detendran inmediatamente.",
		createFields: []mcp.ToolOption{
			mcp.WithString("url", mcp.Required(), format("uri"), mcp.Description("Webhook endpoint URL / URL del endpoint del webhook")),
			mcp.WithArray("events", mcp.Required(), mcp.Items(map[string]any{"type": "string"}), mcp.MinItems(1),
				mcp.Description("Events to subscribe to (e.g. ['invoice.created', 'invoice.paid']) / Eventos a suscribir")),
			mcp.WithBoolean("active", mcp.Description("Whether the webhook is active (default: true) / Si el webhook esta activo")),
			mcp.WithString("secret", mcp.Description("Signing secret for payload verification / Secreto para verificar las notificaciones")),
		},
		updateFields: []mcp.ToolOption{
			mcp.WithString("url", format("uri"), mcp.Description("Endpoint URL / URL")),
			mcp.WithArray("events", mcp.Items(map[string]any{"type": "string"}), mcp.MinItems(1), mcp.Description("Events / Eventos")),
			mcp.WithBoolean("active", mcp.Description("Active / Activo")),
			mcp.WithString("secret", mcp.Description("Signing secret / Secreto")),
		},
	},
}

// allTools returns the 31 tool specs in registration order.
func allTools() []toolSpec {
	var specs []toolSpec
	for _, r := range resourceSpecs {
		specs = append(specs, r.tools()...)
		if r.resource == frihet.Invoices {
			specs = append(specs, searchInvoicesTool())
		}
	}
	return specs
}
