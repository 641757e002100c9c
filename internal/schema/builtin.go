package schema

func id() Column {
	return Column{Name: PrimaryKey, Kind: KindUUID, NotNull: true, PrimaryKey: true, Default: DefaultRandomUUID}
}

func timestamps() []Column {
	return []Column{
		{Name: "created_at", Kind: KindTimestamp, NotNull: true, Default: DefaultNow},
		{Name: "updated_at", Kind: KindTimestamp, NotNull: true, Default: DefaultNow, OnUpdateNow: true},
	}
}

func str(name string, size int, notNull bool, def string) Column {
	return Column{Name: name, Kind: KindString, Size: size, NotNull: notNull, Default: def}
}

func text(name string, notNull bool) Column {
	return Column{Name: name, Kind: KindText, NotNull: notNull}
}

func flag(name string, notNull bool, def string) Column {
	return Column{Name: name, Kind: KindBool, NotNull: notNull, Default: def}
}

func integer(name string, notNull bool, def string) Column {
	return Column{Name: name, Kind: KindInt, NotNull: notNull, Default: def}
}

func decimal(name string, notNull bool) Column {
	return Column{Name: name, Kind: KindDecimal, Precision: 10, Scale: 2, NotNull: notNull}
}

func ref(name, table string) Column {
	return Column{Name: name, Kind: KindUUID, References: table}
}

func enum(name, typ string, def string) Column {
	return Column{Name: name, Kind: KindEnum, Enum: typ, NotNull: true, Default: def}
}

func date(name string, notNull bool) Column {
	return Column{Name: name, Kind: KindDate, NotNull: notNull}
}

func table(name string, cols ...Column) TableSchema {
	all := append([]Column{id()}, cols...)
	return TableSchema{Name: name, Columns: append(all, timestamps()...)}
}

// Builtin returns the catalog of the production planning database.
func Builtin() *Catalog {
	return &Catalog{
		Enums: []EnumType{
			{Name: "dry_ice_product_type", Values: []string{"blocks", "pellets", "sticks"}},
			{Name: "production_order_status", Values: []string{"pending", "in_progress", "completed", "cancelled"}},
			{Name: "production_location", Values: []string{"sol_emmen", "sol_tilburg"}},
			{Name: "gas_type", Values: []string{"co2", "nitrogen", "argon", "acetylene", "oxygen", "helium", "other"}},
			{Name: "gas_grade", Values: []string{"medical", "technical"}},
		},
		Tables: []TableSchema{
			table("app_settings",
				str("key", 255, true, ""),
				text("value", false),
				text("description", false),
			),
			table("gas_type_categories",
				str("name", 255, true, ""),
				text("description", false),
				flag("is_active", true, "true"),
				integer("sort_order", true, "0"),
			),
			table("cylinder_sizes",
				str("name", 255, true, ""),
				text("description", false),
				decimal("capacity_liters", false),
				flag("is_active", true, "true"),
				integer("sort_order", true, "0"),
			),
			table("dry_ice_packaging",
				str("name", 255, true, ""),
				text("description", false),
				decimal("capacity_kg", false),
				flag("is_active", true, "true"),
				integer("sort_order", true, "0"),
			),
			table("dry_ice_product_types",
				str("name", 255, true, ""),
				text("description", false),
				flag("is_active", true, "true"),
				integer("sort_order", true, "0"),
			),
			table("task_types",
				str("name", 255, true, ""),
				text("description", false),
				str("color", 20, true, "'#06b6d4'"),
				flag("is_active", true, "true"),
				integer("sort_order", true, "0"),
				ref("parent_id", "task_types"),
			),
			table("time_off_types",
				str("name", 255, true, ""),
				text("description", false),
				str("color", 20, true, "'#3b82f6'"),
				flag("is_active", true, "true"),
			),
			table("gas_types",
				str("name", 255, true, ""),
				text("description", false),
				str("color", 20, true, "'#3b82f6'"),
				flag("is_active", true, "true"),
				integer("sort_order", true, "0"),
				ref("category_id", "gas_type_categories"),
			),
			table("customers",
				str("name", 255, true, ""),
				str("contact_person", 255, false, ""),
				str("email", 255, false, ""),
				str("phone", 100, false, ""),
				text("address", false),
				text("notes", false),
				flag("is_active", true, "true"),
			),
			table("gas_cylinder_orders",
				str("order_number", 100, true, ""),
				str("customer_name", 255, true, ""),
				ref("customer_id", "customers"),
				enum("gas_type", "gas_type", "'co2'"),
				ref("gas_type_id", "gas_types"),
				enum("gas_grade", "gas_grade", "'technical'"),
				str("cylinder_size", 100, true, "'medium'"),
				integer("cylinder_count", true, ""),
				integer("pressure", true, "200"),
				enum("status", "production_order_status", "'pending'"),
				enum("location", "production_location", "'sol_emmen'"),
				date("scheduled_date", true),
				text("notes", false),
				Column{Name: "created_by", Kind: KindUUID},
				Column{Name: "assigned_to", Kind: KindUUID},
			),
			table("dry_ice_orders",
				str("order_number", 100, true, ""),
				str("customer_name", 255, true, ""),
				ref("customer_id", "customers"),
				enum("product_type", "dry_ice_product_type", "'blocks'"),
				ref("product_type_id", "dry_ice_product_types"),
				ref("packaging_id", "dry_ice_packaging"),
				decimal("quantity_kg", true),
				integer("box_count", false, ""),
				flag("container_has_wheels", false, ""),
				enum("status", "production_order_status", "'pending'"),
				enum("location", "production_location", "'sol_emmen'"),
				date("scheduled_date", true),
				flag("is_recurring", false, "false"),
				ref("parent_order_id", "dry_ice_orders"),
				date("recurrence_end_date", false),
				text("notes", false),
				Column{Name: "created_by", Kind: KindUUID},
				Column{Name: "assigned_to", Kind: KindUUID},
			),
		},
	}
}
