package config

// deploymentSchema is the CUE schema every deployment configuration is
// unified with before decoding. Structural constraints live here; the
// cross-field capacity invariant is enforced in Go after decoding because its
// error message names the offending pool.
const deploymentSchema = `
#Deployment: {
	// name identifies the deployment in reports and notifications
	name: string & =~"^[a-zA-Z0-9_-]+$"

	// resource_group is the containing group for every object
	resource_group: string & !=""

	// location is the primary region
	location: string & !=""

	// tags are applied to every created object
	tags?: {[string]: string}

	server: {
		name:       string & !=""
		admin_user: string & !=""
		version?:   string
	}

	firewall_rules?: [...{
		name:          string & !=""
		start_address: string & !=""
		end_address:   string & !=""
	}]

	pools?: [...{
		name:                 string & !=""
		edition:              string & !=""
		total_capacity_units: int & >0
		per_database_min:     int & >=0
		per_database_max:     int & >0
		tags?: {[string]: string}
	}]

	databases?: [...{
		name:               string & !=""
		pool_name?:         string
		edition?:           string
		service_objective?: string
		tags?: {[string]: string}
	}]

	options?: {
		multi_region?:       bool
		secondary_location?: string
		sample_data?:        bool
		optimize?:           bool
		monitoring?:         bool
		automation?:         bool
		notify_address?:     string
	}
}
`
