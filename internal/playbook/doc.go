// Package playbook loads the selection playbook: the ordered criteria
// records that decide which collected items run and how often.
//
// Playbooks are written in YAML or HCL:
//
//	criteria:
//	  - area: network
//	    times: 2
//	  - tags: [flaky]
//	    exclude: true
//
//	criteria {
//	  area  = "network"
//	  times = 2
//	}
package playbook
